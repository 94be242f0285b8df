package dto

// ExtractRequest is bound from the query string. Get is an alias of Type.
type ExtractRequest struct {
	URL  string `form:"url"`
	Type string `form:"type"`
	Get  string `form:"get"`
}

// ImageType returns type, falling back to get
func (r ExtractRequest) ImageType() string {
	if r.Type != "" {
		return r.Type
	}
	return r.Get
}

type ExtractResponse struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	DownloadURL string `json:"download_url,omitempty"`
	TrackID     string `json:"track_id,omitempty"`
	ImageType   string `json:"image_type"`
	Firmware    string `json:"firmware"`
	URL         string `json:"url"`
	TrackingURL string `json:"tracking_url,omitempty"`
}

type ErrorResponse struct {
	Error       string `json:"error"`
	Kind        string `json:"kind"`
	Details     string `json:"details,omitempty"`
	TrackID     string `json:"track_id,omitempty"`
	TrackingURL string `json:"tracking_url,omitempty"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Cache   string `json:"cache"`
	Error   string `json:"error,omitempty"`
}
