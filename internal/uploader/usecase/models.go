package usecase

import "github.com/shandysiswandi/gouploader/internal/uploader/entity"

type ListResult struct {
	Uploads          []entity.Upload
	GlobalPercentage int
	Pending          bool
}
