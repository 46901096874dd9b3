package llm

import "encoding/json"

// ResearchRequest describes a background research job submission.
type ResearchRequest struct {
	// Prompt is the flattened research brief.
	Prompt string
	// Model overrides the configured research model when non-empty.
	Model string
	// Instructions is an optional system-style preamble.
	Instructions string
	// Temperature and TopP are sent only when positive.
	Temperature float32
	TopP        float32
	// VectorStoreIDs enables the file-search tool when non-empty.
	VectorStoreIDs []string
}

// JobPayload is the raw status payload of a background research job. The
// remote service's shape is only loosely structured: the answer may arrive
// under output, output_text or text, and an item's content may be a bare
// string or a list of typed parts. Fields the service omits stay zero; Raw
// preserves the exact response bytes.
type JobPayload struct {
	ID         string
	Status     string
	Error      *JobError
	Output     []OutputItem
	OutputText string
	Text       string
	Raw        json.RawMessage
}

func (p *JobPayload) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID         string          `json:"id"`
		Status     string          `json:"status"`
		Error      *JobError       `json:"error"`
		Output     []OutputItem    `json:"output"`
		OutputText string          `json:"output_text"`
		Text       json.RawMessage `json:"text"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.ID = raw.ID
	p.Status = raw.Status
	p.Error = raw.Error
	p.Output = raw.Output
	p.OutputText = raw.OutputText
	// text is a flat string in some payload variants and an options object in
	// others; only the string form carries displayable content.
	if len(raw.Text) > 0 {
		var s string
		if json.Unmarshal(raw.Text, &s) == nil {
			p.Text = s
		}
	}
	p.Raw = append([]byte(nil), data...)
	return nil
}

// JobError is the error attached to a failed job. Some payloads carry a bare
// string where others carry an object; both decode.
type JobError struct {
	Code    string
	Message string
}

func (e *JobError) UnmarshalJSON(data []byte) error {
	var s string
	if json.Unmarshal(data, &s) == nil {
		e.Message = s
		return nil
	}
	var obj struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	e.Code = obj.Code
	e.Message = obj.Message
	return nil
}

// OutputItem is one entry of a payload's output list.
type OutputItem struct {
	Type       string
	Text       string
	OutputText string
	// Content holds the string form of the item's content.
	Content string
	// Parts holds the list form.
	Parts []ContentPart
}

func (it *OutputItem) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type       string          `json:"type"`
		Text       json.RawMessage `json:"text"`
		OutputText string          `json:"output_text"`
		Content    json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	it.Type = raw.Type
	it.OutputText = raw.OutputText
	if len(raw.Text) > 0 {
		var s string
		if json.Unmarshal(raw.Text, &s) == nil {
			it.Text = s
		}
	}
	if len(raw.Content) > 0 {
		var s string
		if json.Unmarshal(raw.Content, &s) == nil {
			it.Content = s
		} else {
			var parts []ContentPart
			if json.Unmarshal(raw.Content, &parts) == nil {
				it.Parts = parts
			}
		}
	}
	return nil
}

// ContentPart is one part of an output item's content list.
type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text"`
	OutputText string `json:"output_text"`
}
