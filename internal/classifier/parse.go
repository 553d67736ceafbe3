package classifier

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	resultRe   = regexp.MustCompile(`(?s)<result>\s*(\[.*?\])\s*</result>`)
	responseRe = regexp.MustCompile(`(?s)<response>(.*?)</response>`)
)

// resultCluster is the raw JSON shape the flagging model is asked to emit
// inside its <result> tags.
type resultCluster struct {
	Groups     []int   `json:"groups"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale,omitempty"`
}

// parseResult extracts the cluster list from a model completion. The model
// reasons inside <analysis> first; everything before the closing tag is
// discarded so chatter there can never be mistaken for a result.
func parseResult(completion string) ([]resultCluster, error) {
	if idx := strings.LastIndex(completion, "</analysis>"); idx >= 0 {
		completion = completion[idx+len("</analysis>"):]
	}

	m := resultRe.FindStringSubmatch(completion)
	if m == nil {
		return nil, &Error{Kind: KindMalformed, Message: "no <result> block in completion"}
	}

	var clusters []resultCluster
	if err := json.Unmarshal([]byte(m[1]), &clusters); err != nil {
		// Older prompt revisions emitted a bare index list; accept it with
		// full confidence so the corpus replay keeps working.
		var indexes []int
		if err2 := json.Unmarshal([]byte(m[1]), &indexes); err2 != nil {
			return nil, &Error{Kind: KindMalformed, Message: "unparseable <result> payload", Err: err}
		}
		// The failed object decode may have left zero-value entries behind.
		clusters = nil
		for _, idx := range indexes {
			clusters = append(clusters, resultCluster{Groups: []int{idx}, Confidence: 1})
		}
	}

	for i := range clusters {
		if clusters[i].Confidence < 0 {
			clusters[i].Confidence = 0
		}
		if clusters[i].Confidence > 1 {
			clusters[i].Confidence = 1
		}
	}
	return clusters, nil
}

// parseFeedback extracts the generated warning from its <response> tags.
func parseFeedback(completion string) (string, error) {
	m := responseRe.FindStringSubmatch(completion)
	if m == nil {
		return "", &Error{Kind: KindMalformed, Message: "no <response> block in completion"}
	}
	text := strings.TrimSpace(m[1])
	if text == "" {
		return "", &Error{Kind: KindMalformed, Message: "empty <response> block"}
	}
	return text, nil
}
