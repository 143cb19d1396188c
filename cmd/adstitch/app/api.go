package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/Dash-Industry-Forum/adstitch/internal"
	"github.com/Dash-Industry-Forum/adstitch/pkg/session"
)

// SessionInfo describes one stitching session in API responses.
type SessionInfo struct {
	ID        string    `json:"id" doc:"Client-chosen session token"`
	OriginURL string    `json:"originUrl" doc:"Origin manifest URL bound to the session"`
	Mode      string    `json:"mode" doc:"Stitching mode (ssai or sgai)"`
	CreatedAt time.Time `json:"createdAt" doc:"Session creation time"`
	LastSeen  time.Time `json:"lastSeen" doc:"Last manifest or segment request time"`
}

type SessionListResponse struct {
	Body struct {
		Count    int           `json:"count" doc:"Number of live sessions"`
		Sessions []SessionInfo `json:"sessions" doc:"All live sessions"`
	}
}

type SessionInfoResponse struct {
	Body SessionInfo
}

type SessionDeleteResponse struct {
	Body struct {
		ID string `json:"id" doc:"Token of the deleted session"`
	}
}

type sessionIDInput struct {
	SessionID string `path:"sessionID" maxLength:"128" example:"abc-123" doc:"Session token"`
}

func sessionInfo(s *session.Session) SessionInfo {
	return SessionInfo{
		ID:        s.ID,
		OriginURL: s.OriginURL,
		Mode:      s.Mode,
		CreatedAt: s.CreatedAt,
		LastSeen:  s.LastSeen,
	}
}

func createListSessionsHdlr(s *Server) func(ctx context.Context, _ *struct{}) (*SessionListResponse, error) {
	return func(ctx context.Context, _ *struct{}) (*SessionListResponse, error) {
		sessions, err := s.store.List(ctx)
		if err != nil {
			return nil, huma.Error500InternalServerError("session store failure")
		}
		resp := &SessionListResponse{}
		resp.Body.Count = len(sessions)
		resp.Body.Sessions = make([]SessionInfo, 0, len(sessions))
		for _, sess := range sessions {
			resp.Body.Sessions = append(resp.Body.Sessions, sessionInfo(sess))
		}
		return resp, nil
	}
}

func createGetSessionHdlr(s *Server) func(ctx context.Context, input *sessionIDInput) (*SessionInfoResponse, error) {
	return func(ctx context.Context, input *sessionIDInput) (*SessionInfoResponse, error) {
		sess, err := s.store.Get(ctx, input.SessionID)
		if err != nil {
			return nil, huma.Error404NotFound(fmt.Sprintf("session %s not found", input.SessionID))
		}
		return &SessionInfoResponse{Body: sessionInfo(sess)}, nil
	}
}

func createDeleteSessionHdlr(s *Server) func(ctx context.Context, input *sessionIDInput) (*SessionDeleteResponse, error) {
	return func(ctx context.Context, input *sessionIDInput) (*SessionDeleteResponse, error) {
		if _, err := s.store.Get(ctx, input.SessionID); err != nil {
			return nil, huma.Error404NotFound(fmt.Sprintf("session %s not found", input.SessionID))
		}
		if err := s.store.Delete(ctx, input.SessionID); err != nil {
			return nil, huma.Error500InternalServerError("session store failure")
		}
		s.tracker.Forget(input.SessionID)
		resp := &SessionDeleteResponse{}
		resp.Body.ID = input.SessionID
		return resp, nil
	}
}

func createRouteAPI(s *Server) func(r chi.Router) {
	return func(r chi.Router) {
		config := huma.DefaultConfig("Adstitch session API", internal.GetVersion())
		config.Servers = []*huma.Server{
			{URL: "/api"},
		}
		config.Info.Description = `Inspect and manage stitching sessions. Sessions are created
		implicitly by manifest requests and expire after an idle timeout.`

		api := humachi.New(r, config)

		huma.Register(api, huma.Operation{
			OperationID: "list-sessions",
			Method:      http.MethodGet,
			Path:        "/sessions",
			Summary:     "List all live stitching sessions",
			Tags:        []string{"sessions"},
		}, createListSessionsHdlr(s))

		huma.Register(api, huma.Operation{
			OperationID: "get-session",
			Method:      http.MethodGet,
			Path:        "/sessions/{sessionID}",
			Summary:     "Get one stitching session",
			Tags:        []string{"sessions"},
			Errors:      []int{404},
		}, createGetSessionHdlr(s))

		huma.Register(api, huma.Operation{
			OperationID: "delete-session",
			Method:      http.MethodDelete,
			Path:        "/sessions/{sessionID}",
			Summary:     "Delete a stitching session",
			Description: "Remove the session and any pending beacon state tied to it.",
			Tags:        []string{"sessions"},
			Errors:      []int{404},
		}, createDeleteSessionHdlr(s))
	}
}
