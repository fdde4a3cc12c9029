package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Verb identifies the operation a client asks the agent to perform.
type Verb string

const (
	VerbAdd     Verb = "Add"
	VerbRemove  Verb = "Remove"
	VerbList    Verb = "List"
	VerbAlive   Verb = "Alive"
	VerbExecute Verb = "Execute"
	VerbKill    Verb = "Kill"
	VerbRestart Verb = "Restart"
	VerbToggle  Verb = "Toggle"
)

// Fixed response texts.
const (
	AliveToken   = "running"
	NotRunning   = "not running"
	ParseFailure = "Could not parse the command"
)

var ErrUnknownVerb = errors.New("unknown verb")

// Request is one client message. Only the fields relevant to Verb are set:
// Name for everything except List/Alive, Command only for Add.
type Request struct {
	Verb    Verb
	Name    string
	Command string
}

func Add(name, command string) Request { return Request{Verb: VerbAdd, Name: name, Command: command} }
func Remove(name string) Request       { return Request{Verb: VerbRemove, Name: name} }
func List() Request                    { return Request{Verb: VerbList} }
func Alive() Request                   { return Request{Verb: VerbAlive} }
func Execute(name string) Request      { return Request{Verb: VerbExecute, Name: name} }
func Kill(name string) Request         { return Request{Verb: VerbKill, Name: name} }
func Restart(name string) Request      { return Request{Verb: VerbRestart, Name: name} }
func Toggle(name string) Request       { return Request{Verb: VerbToggle, Name: name} }

func (v Verb) valid() bool {
	switch v {
	case VerbAdd, VerbRemove, VerbList, VerbAlive, VerbExecute, VerbKill, VerbRestart, VerbToggle:
		return true
	}
	return false
}

// unit reports whether the verb carries no payload.
func (v Verb) unit() bool { return v == VerbList || v == VerbAlive }

type namePayload struct {
	Name string `json:"name"`
}

type addPayload struct {
	Name    string `json:"name"`
	Command string `json:"command"`
}

// MarshalJSON encodes the request as an externally tagged document:
// payload-less verbs are a bare string ("List"), the rest an object keyed by
// the verb ({"Kill":{"name":"x"}}).
func (r Request) MarshalJSON() ([]byte, error) {
	if !r.Verb.valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVerb, r.Verb)
	}
	if r.Verb.unit() {
		return json.Marshal(string(r.Verb))
	}
	var payload any = namePayload{Name: r.Name}
	if r.Verb == VerbAdd {
		payload = addPayload{Name: r.Name, Command: r.Command}
	}
	return json.Marshal(map[string]any{string(r.Verb): payload})
}

func (r *Request) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v := Verb(s)
		if !v.valid() || !v.unit() {
			return fmt.Errorf("%w: %q", ErrUnknownVerb, s)
		}
		*r = Request{Verb: v}
		return nil
	}

	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return err
	}
	if len(tagged) != 1 {
		return fmt.Errorf("expected exactly one verb, got %d", len(tagged))
	}
	for k, raw := range tagged {
		v := Verb(k)
		if !v.valid() {
			return fmt.Errorf("%w: %q", ErrUnknownVerb, k)
		}
		if v.unit() {
			*r = Request{Verb: v}
			return nil
		}
		var p struct {
			Name    string  `json:"name"`
			Command *string `json:"command"`
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return fmt.Errorf("decode %s payload: %w", k, err)
		}
		if p.Name == "" {
			return fmt.Errorf("%s requires a name", k)
		}
		if (v == VerbAdd) != (p.Command != nil) {
			if v == VerbAdd {
				return fmt.Errorf("%s requires a command", k)
			}
			return fmt.Errorf("%s does not take a command", k)
		}
		*r = Request{Verb: v, Name: p.Name}
		if p.Command != nil {
			r.Command = *p.Command
		}
	}
	return nil
}

// Encode serializes a request for the wire.
func Encode(r Request) ([]byte, error) { return json.Marshal(r) }

// Decode parses one request document.
func Decode(b []byte) (Request, error) {
	var r Request
	if err := json.Unmarshal(b, &r); err != nil {
		return Request{}, err
	}
	return r, nil
}
