package ingestion

import (
	"OptionSettle/internal/command"
	"OptionSettle/internal/domain"
	fpmath "OptionSettle/internal/math"
	"encoding/json"
	"fmt"
	"strings"
)

// SubjectPrefix roots every inbound command subject:
// optsettle.cmd.<command_type>[.<anything>].
const SubjectPrefix = "optsettle.cmd."

// Subject returns the inbound subject for a command type.
func Subject(t command.Type) string {
	return SubjectPrefix + t.String()
}

// ParseSubject extracts the command type from an inbound subject.
func ParseSubject(subject string) (command.Type, error) {
	rest, ok := strings.CutPrefix(subject, SubjectPrefix)
	if !ok {
		return command.TypeUnknown, fmt.Errorf("%w: subject %q outside %s>", domain.ErrInvalidValue, subject, SubjectPrefix)
	}
	name, _, _ := strings.Cut(rest, ".")
	t, err := command.ParseType(name)
	if err != nil {
		return command.TypeUnknown, fmt.Errorf("%w: %v", domain.ErrInvalidValue, err)
	}
	return t, nil
}

// createSeriesExt carries wire-only fields of create_series.
type createSeriesExt struct {
	// StrikePrice is a human-readable price ("2000.5"), quoted as
	// consideration per collateral for calls and the reverse for puts.
	StrikePrice string `json:"strike_price"`
}

// ParseCommand decodes a JSON command payload and validates its header.
// Malformed payloads are reported as domain.ErrInvalidValue so callers can
// treat them as permanent.
func ParseCommand(t command.Type, data []byte) (command.Command, error) {
	cmd, err := command.Decode(t, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidValue, err)
	}

	if cs, ok := cmd.(*command.CreateSeries); ok {
		var ext createSeriesExt
		if err := json.Unmarshal(data, &ext); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidValue, err)
		}
		if ext.StrikePrice != "" {
			if cs.Strike != nil {
				return nil, fmt.Errorf("%w: create_series: strike and strike_price are exclusive", domain.ErrInvalidValue)
			}
			strike, err := fpmath.ParseStrike(ext.StrikePrice, cs.IsPut)
			if err != nil {
				return nil, err
			}
			cs.Strike = strike
		}
	}

	if err := command.Validate(cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}

// ParseMessage resolves the command type from subject and decodes data.
func ParseMessage(subject string, data []byte) (command.Command, error) {
	t, err := ParseSubject(subject)
	if err != nil {
		return nil, err
	}
	return ParseCommand(t, data)
}
