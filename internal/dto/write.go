package dto

// WriteResult reports the per-index outcome of a batch write.
type WriteResult struct {
	Successful map[string]ObjectView  `json:"successful"`
	Success    map[string]string      `json:"success"`
	Unchanged  map[string]string      `json:"unchanged"`
	Failed     map[string]FailedWrite `json:"failed"`
}

// NewWriteResult returns an empty result with initialised maps.
func NewWriteResult() *WriteResult {
	return &WriteResult{
		Successful: map[string]ObjectView{},
		Success:    map[string]string{},
		Unchanged:  map[string]string{},
		Failed:     map[string]FailedWrite{},
	}
}

// FailedWrite describes why one element of a batch was rejected.
type FailedWrite struct {
	Key     string                 `json:"key,omitempty"`
	Code    int                    `json:"code"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}
