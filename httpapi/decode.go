package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
)

var errBodyTooLarge = errors.New("request body too large")

// decodeBody fills dst from a JSON or form encoded body. Form fields are
// matched against dst's json tags, so every request struct uses string
// fields only. An empty body leaves dst untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return classifyBodyError(err)
		}
		fields := make(map[string]string, len(r.PostForm))
		for key := range r.PostForm {
			fields[key] = r.PostForm.Get(key)
		}
		raw, err := json.Marshal(fields)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, dst)
	default:
		dec := json.NewDecoder(r.Body)
		if err := dec.Decode(dst); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return classifyBodyError(err)
		}
		return nil
	}
}

func classifyBodyError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return errBodyTooLarge
	}
	return fmt.Errorf("malformed body: %w", err)
}

// decodeOrReject writes a 400 or 413 and returns false when the body cannot
// be decoded.
func (s *Server) decodeOrReject(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := decodeBody(w, r, dst)
	if err == nil {
		return true
	}
	if errors.Is(err, errBodyTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, CodeInvalidRequest, "Request body exceeds 1 MiB")
		return false
	}
	writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Request body is not valid JSON or form data")
	return false
}
