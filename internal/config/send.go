package config

import (
	"encoding/json"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// SendStep is one element of a button's send sequence: literal text written
// to the terminal, or a pause when IsDelay is set.
type SendStep struct {
	Text    string
	DelayMS int
	IsDelay bool
}

// SendSteps handles YAML unmarshaling of send: string | [string|int].
// A plain string is a single step; in a sequence, integers are delays in ms.
type SendSteps []SendStep

func (s *SendSteps) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var text string
		if err := value.Decode(&text); err != nil {
			return err
		}
		*s = SendSteps{{Text: text}}
		return nil
	}
	if value.Kind != yaml.SequenceNode {
		return fmt.Errorf("send: expected string or sequence, got %s", value.Tag)
	}
	steps := make(SendSteps, 0, len(value.Content))
	for _, n := range value.Content {
		if n.Tag == "!!int" {
			ms, err := strconv.Atoi(n.Value)
			if err != nil {
				return fmt.Errorf("send: invalid delay %q: %w", n.Value, err)
			}
			steps = append(steps, SendStep{DelayMS: ms, IsDelay: true})
			continue
		}
		var text string
		if err := n.Decode(&text); err != nil {
			return fmt.Errorf("send: step must be a string or an integer delay: %w", err)
		}
		steps = append(steps, SendStep{Text: text})
	}
	*s = steps
	return nil
}

// MarshalJSON renders the shape the web client consumes: a lone text step as
// a plain string, anything else as a mixed string/number array.
func (s SendSteps) MarshalJSON() ([]byte, error) {
	if len(s) == 1 && !s[0].IsDelay {
		return json.Marshal(s[0].Text)
	}
	arr := make([]any, len(s))
	for i, step := range s {
		if step.IsDelay {
			arr[i] = step.DelayMS
		} else {
			arr[i] = step.Text
		}
	}
	return json.Marshal(arr)
}
