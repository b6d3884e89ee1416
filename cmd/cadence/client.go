package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/felixgeelhaar/cadence/internal/config"
	"github.com/felixgeelhaar/cadence/internal/storage/local"
	"github.com/google/uuid"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

// errNoSession is returned when no lesson is being played.
var errNoSession = errors.New("no active lesson (run 'cadence play <lesson>' first)")

// apiError is the daemon's JSON error body.
type apiError struct {
	Message string `json:"error"`
	Status  int    `json:"status"`
	Details string `json:"details,omitempty"`
}

func (e *apiError) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

// call sends a request to the daemon and decodes the JSON reply into out.
func call(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, daemonAddr+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user := os.Getenv("CADENCE_USER"); user != "" {
		req.Header.Set("X-Cadence-User", user)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("daemon not reachable (run 'cadence start' first): %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &apiError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = resp.Status
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// cliState remembers which session the terminal is playing.
type cliState struct {
	store *local.Store
}

const (
	cliNamespace = "cli"
	currentKey   = "current-session"
)

func openCLIState() (*cliState, error) {
	dir, err := config.EnsureCadenceDir()
	if err != nil {
		return nil, err
	}
	store, err := local.NewStore(filepath.Join(dir, "state"))
	if err != nil {
		return nil, err
	}
	return &cliState{store: store}, nil
}

func (c *cliState) current() (string, error) {
	var id string
	if err := c.store.Get(cliNamespace, currentKey, &id); err != nil {
		return "", errNoSession
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", errNoSession
	}
	return id, nil
}

func (c *cliState) setCurrent(id string) error {
	return c.store.Put(cliNamespace, currentKey, id)
}

func (c *cliState) clear() error {
	return c.store.Delete(cliNamespace, currentKey)
}
