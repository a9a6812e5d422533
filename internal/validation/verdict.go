package validation

import (
	"errors"
	"fmt"

	"github.com/josephgoksu/TriageWing/internal/finding"
	"github.com/josephgoksu/TriageWing/internal/utils"
)

// verdictResponse is the JSON the model is asked to return.
type verdictResponse struct {
	IsVulnerability   *bool  `json:"is_vulnerability" validate:"required"`
	Reason            string `json:"reason" validate:"max=4000"`
	SuggestedSeverity string `json:"suggested_severity"`
}

var errMissingVerdict = errors.New("response has no is_vulnerability field")

func parseVerdict(raw string) (verdictResponse, error) {
	v, err := utils.ExtractAndParseJSON[verdictResponse](raw)
	if err != nil {
		return v, err
	}
	if v.IsVulnerability == nil {
		return v, errMissingVerdict
	}
	if err := validate.Struct(v); err != nil {
		return v, fmt.Errorf("invalid verdict: %w", err)
	}
	return v, nil
}

// suggestedSeverity returns the model's severity when it names a known level.
func (v verdictResponse) suggestedSeverity() (finding.Severity, bool) {
	return finding.ParseSeverity(v.SuggestedSeverity)
}
