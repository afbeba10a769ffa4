package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/filefortress/filefortress/internal/httpclient"
)

var (
	// ErrRequestInFlight is returned when a mutating call starts while another is running.
	ErrRequestInFlight = errors.New("another auth request is in flight")
	// ErrMissingAccessToken is returned when the server grants a session without a token.
	ErrMissingAccessToken = errors.New("server response carried no access token")
)

// ErrorKind separates per-field problems from whole-form problems.
type ErrorKind int

const (
	GlobalError ErrorKind = iota + 1
	FieldErrors
)

func (k ErrorKind) String() string {
	switch k {
	case GlobalError:
		return "global"
	case FieldErrors:
		return "fields"
	default:
		return "unknown"
	}
}

// Error is every server or transport failure, normalized at the façade
// boundary. The underlying *httpclient error stays reachable via errors.As.
type Error struct {
	Kind   ErrorKind
	Status int
	// Message is the server's "error" text, if any.
	Message string
	// Detail is the server's "detail" text, if any.
	Detail string
	// Fields maps form field names (camelCase) to messages.
	Fields map[string]string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == FieldErrors:
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+e.Fields[k])
		}
		return "auth: " + strings.Join(parts, "; ")
	case e.Message != "":
		return "auth: " + e.Message
	case e.Detail != "":
		return "auth: " + e.Detail
	case e.Err != nil:
		return "auth: " + e.Err.Error()
	default:
		return fmt.Sprintf("auth: request failed with status %d", e.Status)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Network reports whether the exchange never reached the server.
func (e *Error) Network() bool {
	var ne *httpclient.NetworkError
	return errors.As(e.Err, &ne)
}

// serverError is the union of the error bodies the API produces.
type serverError struct {
	Error  string                     `json:"error"`
	Detail string                     `json:"detail"`
	Field  string                     `json:"field"`
	Fields map[string]json.RawMessage `json:"fields"`
}

// normalize converts transport and status errors into *Error. Anything else
// is returned unchanged.
func normalize(err error) error {
	if err == nil {
		return nil
	}
	var ne *httpclient.NetworkError
	if errors.As(err, &ne) {
		return &Error{Kind: GlobalError, Err: err}
	}
	var se *httpclient.StatusError
	if !errors.As(err, &se) {
		return err
	}

	out := &Error{Kind: GlobalError, Status: se.StatusCode, Err: err}
	var body serverError
	if json.Unmarshal(se.Body, &body) != nil {
		return out
	}
	out.Message = body.Error
	out.Detail = body.Detail

	switch {
	case len(body.Fields) > 0:
		out.Kind = FieldErrors
		out.Fields = make(map[string]string, len(body.Fields))
		for name, raw := range body.Fields {
			out.Fields[fieldName(name)] = fieldMessage(raw)
		}
	case body.Field != "":
		out.Kind = FieldErrors
		out.Fields = map[string]string{fieldName(body.Field): body.Error}
	}
	return out
}

// fieldName maps server field names onto form field names.
func fieldName(wire string) string {
	switch wire {
	case "first_name":
		return "firstName"
	case "last_name":
		return "lastName"
	case "non_field_errors":
		return "serverError"
	default:
		return wire
	}
}

// fieldMessage flattens a message that may be a string or a list of strings.
func fieldMessage(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var list []string
	if json.Unmarshal(raw, &list) == nil {
		return strings.Join(list, " ")
	}
	return strings.Trim(string(raw), `"`)
}
