package ci

// RunStatus is the resolved state of a dispatched workflow run
type RunStatus string

const (
	RunNotFound         RunStatus = "not_found"
	RunActive           RunStatus = "active"
	RunCompletedSuccess RunStatus = "completed_success"
	RunCompletedFailure RunStatus = "completed_failure"
)

// AssetRef points at a published release asset
type AssetRef struct {
	Name        string `json:"name"`
	DownloadURL string `json:"browser_download_url"`
}

// DispatchRequest carries the workflow inputs for one extraction
type DispatchRequest struct {
	URL       string
	TrackID   string
	ImageType string
}

type release struct {
	TagName string     `json:"tag_name"`
	Assets  []AssetRef `json:"assets"`
}

type dispatchBody struct {
	Ref    string            `json:"ref"`
	Inputs map[string]string `json:"inputs"`
}

type workflowRun struct {
	ID           int64             `json:"id"`
	Name         string            `json:"name"`
	DisplayTitle string            `json:"display_title"`
	HeadSHA      string            `json:"head_sha"`
	Status       string            `json:"status"`
	Conclusion   string            `json:"conclusion"`
	HTMLURL      string            `json:"html_url"`
	Inputs       map[string]string `json:"inputs,omitempty"`
}

type workflowRuns struct {
	TotalCount   int           `json:"total_count"`
	WorkflowRuns []workflowRun `json:"workflow_runs"`
}

var activeRunStatuses = map[string]struct{}{
	"queued":      {},
	"in_progress": {},
	"requested":   {},
	"pending":     {},
	"waiting":     {},
}
