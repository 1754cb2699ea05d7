package feed

import "fmt"

// MalformedPayload is a schema violation in a fetched JSON body. Index is
// the position of the offending record in the data array, or -1 when the
// payload as a whole is unusable.
type MalformedPayload struct {
	Index  int
	Field  string
	Reason string
}

func (e *MalformedPayload) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("malformed payload: field %q: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("malformed payload: record %d: field %q: %s", e.Index, e.Field, e.Reason)
}
