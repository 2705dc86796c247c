package recovery

import (
	"time"

	"github.com/efm6988/ntfs-forensic-recovery/internal/config"
	"github.com/efm6988/ntfs-forensic-recovery/internal/services"
)

// Request represents a recovery request
type Request struct {
	SourcePath string
	Config     *config.Config
}

// Response represents the outcome of a recovery run
type Response struct {
	Source   SourceInfo       `json:"source" yaml:"source"`
	Report   *services.Report `json:"report" yaml:"report"`
	Elapsed  time.Duration    `json:"elapsed" yaml:"elapsed"`
	Warnings int              `json:"warning_count" yaml:"warning_count"`
}

// SourceInfo describes the opened source
type SourceInfo struct {
	Path              string `json:"path" yaml:"path"`
	SizeBytes         int64  `json:"size_bytes" yaml:"size_bytes"`
	VolumeOffset      int64  `json:"volume_offset" yaml:"volume_offset"`
	DetectionMethod   string `json:"detection_method" yaml:"detection_method"`
	MetadataAvailable bool   `json:"metadata_available" yaml:"metadata_available"`
	Mapped            bool   `json:"mapped" yaml:"mapped"`
}
