package call

import (
	"encoding/json"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/weiawesome/wes-io-live/messenger-service/internal/domain"
)

// validateDescription checks raw is a {type, sdp} object of one of the
// wanted SDP types. The payload itself is relayed untouched.
func validateDescription(raw json.RawMessage, field string, want ...webrtc.SDPType) error {
	if len(raw) == 0 || string(raw) == "null" {
		return domain.Validation("%s is required", field)
	}
	sd, err := domain.ParseSessionDescription(raw)
	if err != nil {
		return domain.Validation("%s must be a session description", field)
	}
	if strings.TrimSpace(sd.SDP) == "" {
		return domain.Validation("%s.sdp is required", field)
	}
	got := webrtc.NewSDPType(sd.Type)
	for _, t := range want {
		if got == t {
			return nil
		}
	}
	return domain.Validation("%s has unexpected type %q", field, sd.Type)
}

func validateOffer(raw json.RawMessage) error {
	return validateDescription(raw, "offer", webrtc.SDPTypeOffer)
}

func validateAnswer(raw json.RawMessage) error {
	return validateDescription(raw, "answer", webrtc.SDPTypeAnswer, webrtc.SDPTypePranswer)
}

func validateCandidate(raw json.RawMessage) error {
	if len(raw) == 0 || string(raw) == "null" {
		return domain.Validation("candidate is required")
	}
	if !json.Valid(raw) {
		return domain.Validation("candidate must be valid JSON")
	}
	return nil
}
