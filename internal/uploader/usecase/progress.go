package usecase

import (
	"math"

	"github.com/shandysiswandi/gouploader/internal/uploader/entity"
)

// HasPending reports whether any record is currently transferring.
func HasPending(snapshot map[string]entity.Upload) bool {
	for _, upload := range snapshot {
		if upload.Status == entity.UploadStatusTransferring {
			return true
		}
	}
	return false
}

// GlobalPercentage reduces a snapshot to one progress value in [0, 100].
//
// It is 100 when nothing is transferring. Otherwise every record adds its
// compressed size (or original size while unknown) to the total, and only
// records with a known compressed size add their transferred bytes.
func GlobalPercentage(snapshot map[string]entity.Upload) int {
	if !HasPending(snapshot) {
		return 100
	}

	var totalBytes, uploadedBytes int64
	for _, upload := range snapshot {
		if upload.HasCompressedSize() {
			totalBytes += upload.CompressedByteSize
			uploadedBytes += upload.UploadByteSize
			continue
		}
		totalBytes += upload.OriginalByteSize
	}

	if totalBytes <= 0 {
		return 0
	}

	percentage := int(math.Round(float64(uploadedBytes) * 100 / float64(totalBytes)))
	return min(max(percentage, 0), 100)
}
