package render

import "encoding/json"

// Job is the JSON payload popped from the render queue.
type Job struct {
	ExportID      string `json:"export_id"`
	ProjectID     string `json:"project_id"`
	Format        string `json:"format"`
	Quality       string `json:"quality"`
	SaveToLibrary bool   `json:"save_to_library"`
	BotName       string `json:"bot_name,omitempty"`
}

// ParseJob decodes a queued render job payload.
func ParseJob(data []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return Job{}, err
	}
	return j, nil
}

// Progress is broadcast on the pub-sub channel as the job advances.
type Progress struct {
	ExportID   string `json:"export_id"`
	Status     string `json:"status"` // "processing" | "completed" | "failed"
	Percent    int    `json:"progress"`
	OutputURL  string `json:"output_url,omitempty"`
	DrivePath  string `json:"drive_path,omitempty"`
	Error      string `json:"error,omitempty"`
}
