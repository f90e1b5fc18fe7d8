package e2e

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/suite"
)

type testEventDeliverySuite struct {
	BaseHTTPSuite
}

func TestEventDeliverySuite(t *testing.T) {
	suite.Run(t, &testEventDeliverySuite{})
}

func (s *testEventDeliverySuite) TestFullDeliveryFlow() {
	var queueID string

	// --- STEP 0: REGISTER A QUEUE ---
	s.Run("Step 0: Register an event queue", func() {
		status, body := s.Call(http.MethodPost, "/api/v1/events/register", s.Config.UserID, map[string]any{
			"event_types":    []string{"message"},
			"apply_markdown": false,
		})
		s.Require().Equal(http.StatusOK, status)
		s.Require().NoError(jsonField(body, "queue_id", &queueID))
		s.Require().NotEmpty(queueID)
	})

	// --- STEP 1: NOTIFY A MESSAGE ---
	s.Run("Step 1: Notify a message for the registered user", func() {
		status, _ := s.Call(http.MethodPost, "/api/v1/internal/notify", 0, map[string]any{
			"event": map[string]any{
				"type": "message",
				"message": map[string]any{
					"id":        1001,
					"sender_id": s.Config.SenderID,
					"content":   "e2e probe",
					"stream":    "e2e",
				},
			},
			"users": []map[string]any{{"id": s.Config.UserID}},
		})
		s.Require().Equal(http.StatusOK, status)
	})

	// --- STEP 2: FETCH AND ACKNOWLEDGE ---
	var lastEventID float64
	s.Run("Step 2: Poll returns the event", func() {
		path := fmt.Sprintf("/api/v1/events?queue_id=%s&last_event_id=-1&timeout=30", queueID)
		status, body := s.Call(http.MethodGet, path, s.Config.UserID, nil)
		s.Require().Equal(http.StatusOK, status)

		var events []map[string]any
		s.Require().NoError(jsonField(body, "events", &events))
		s.Require().NotEmpty(events)
		s.Require().Equal("message", events[len(events)-1]["type"])
		lastEventID = events[len(events)-1]["id"].(float64)
	})

	s.Run("Step 3: Acknowledged events are pruned", func() {
		path := fmt.Sprintf("/api/v1/events?queue_id=%s&last_event_id=%d&dont_block=true", queueID, int64(lastEventID))
		status, body := s.Call(http.MethodGet, path, s.Config.UserID, nil)
		s.Require().Equal(http.StatusOK, status)

		var events []map[string]any
		s.Require().NoError(jsonField(body, "events", &events))
		s.Require().Empty(events)
	})

	// --- STEP 4: CLEAN UP ---
	s.Run("Step 4: Delete the queue", func() {
		status, _ := s.Call(http.MethodDelete, "/api/v1/events?queue_id="+queueID, s.Config.UserID, nil)
		s.Require().Equal(http.StatusOK, status)

		status, _ = s.Call(http.MethodGet, "/api/v1/events?queue_id="+queueID, s.Config.UserID, nil)
		s.Require().Equal(http.StatusBadRequest, status)
	})
}
