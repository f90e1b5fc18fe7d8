package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stretchr/testify/suite"
)

type BaseHTTPSuite struct {
	suite.Suite
	Config Config
	client *http.Client
}

// SetupSuite loads the environment configuration before running tests
func (s *BaseHTTPSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if s.Config.RelayAddr == "" {
		s.T().Skip("RELAY_ADDR not set, skipping e2e suite")
	}
	// Long enough for a full-length long-poll round trip
	s.client = &http.Client{Timeout: 2 * time.Minute}
}

// Call performs one JSON request against the relay as the given user and
// decodes the response envelope. A zero userID sends no identity header.
func (s *BaseHTTPSuite) Call(method, path string, userID int64, body any) (int, map[string]json.RawMessage) {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, "http://"+s.Config.RelayAddr+path, &buf)
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		req.Header.Set("X-User-ID", fmt.Sprint(userID))
	}

	resp, err := s.client.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	if s.Config.DebugJSON {
		s.T().Logf("%s %s -> %d\n%s", method, path, resp.StatusCode, raw)
	}

	var decoded map[string]json.RawMessage
	s.Require().NoError(json.Unmarshal(raw, &decoded))
	return resp.StatusCode, decoded
}

// jsonField decodes one field of a response envelope into dst.
func jsonField(body map[string]json.RawMessage, key string, dst any) error {
	raw, ok := body[key]
	if !ok {
		return fmt.Errorf("response has no %q field", key)
	}
	return json.Unmarshal(raw, dst)
}
