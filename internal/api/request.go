package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/psantana5/parbench/internal/orchestrator"
	"github.com/psantana5/parbench/pkg/models"
)

// ProcessRequest is the body of POST /api/process
type ProcessRequest struct {
	JobID          string   `json:"job_id" validate:"required"`
	Feature        string   `json:"feature" validate:"required"`
	OpenMPThreads  *flexInt `json:"openmp_threads" validate:"required"`
	PthreadThreads *flexInt `json:"pthread_threads" validate:"required"`
}

// flexInt accepts both 4 and "4"
type flexInt int

func (n *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		if f, ferr := strconv.ParseFloat(s, 64); ferr == nil && f == float64(int(f)) {
			*n = flexInt(int(f))
			return nil
		}
		return fmt.Errorf("not an integer: %s", s)
	}
	*n = flexInt(v)
	return nil
}

var validate = validator.New()

func init() {
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// threadRange is checked per field after the feature so the first reported
// problem follows field order job_id, feature, openmp_threads, pthread_threads.
var threadRange = fmt.Sprintf("min=%d,max=%d", orchestrator.MinThreads, orchestrator.MaxThreads)

// check returns the first user-facing validation message, or ""
func (p *ProcessRequest) check() string {
	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return "Missing required field: " + verrs[0].Field()
		}
		return "Invalid request"
	}
	if strings.TrimSpace(p.JobID) == "" {
		return "Missing required field: job_id"
	}
	if _, ok := models.LookupFeature(p.Feature); !ok {
		return "Invalid feature: " + p.Feature
	}
	if validate.Var(int(*p.OpenMPThreads), threadRange) != nil {
		return fmt.Sprintf("OpenMP threads must be between %d and %d", orchestrator.MinThreads, orchestrator.MaxThreads)
	}
	if validate.Var(int(*p.PthreadThreads), threadRange) != nil {
		return fmt.Sprintf("Pthread threads must be between %d and %d", orchestrator.MinThreads, orchestrator.MaxThreads)
	}
	return ""
}

func decodeProcess(r io.Reader) (*ProcessRequest, error) {
	var req ProcessRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, err
	}
	return &req, nil
}
