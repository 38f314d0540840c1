package packages

// CreateRequest registers a new offline package for a course
type CreateRequest struct {
	Name                string `json:"name" validate:"required,max=200"`
	Description         string `json:"description"`
	CourseID            uint   `json:"courseId" validate:"required"`
	IncludesVideos      *bool  `json:"includesVideos"`
	IncludesDocuments   *bool  `json:"includesDocuments"`
	IncludesAssessments *bool  `json:"includesAssessments"`
}

// DownloadInfo is what a client needs to fetch and verify an artifact
type DownloadInfo struct {
	URL      string `json:"url"`
	Checksum string `json:"checksum"`
	FileSize int64  `json:"fileSize"`
}

// StartDownloadRequest begins (or restarts) a package download
type StartDownloadRequest struct {
	PackageID uint   `json:"packageId" validate:"required"`
	DeviceID  string `json:"deviceId" validate:"required,max=100"`
}

// StartDownloadResult pairs the tracking row with fetch information
type StartDownloadResult struct {
	DownloadID uint   `json:"downloadId"`
	URL        string `json:"url"`
	Checksum   string `json:"checksum"`
	FileSize   int64  `json:"fileSize"`
}

// Filters narrows package listings
type Filters struct {
	Status   string
	CourseID uint
	Search   string
}

// DownloadFilters narrows download listings
type DownloadFilters struct {
	PackageID uint
	DeviceID  string
	Completed *bool
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
