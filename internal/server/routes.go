package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	apperrors "github.com/zsiec/nalrelay/internal/errors"
	"github.com/zsiec/nalrelay/internal/registry"
	"github.com/zsiec/nalrelay/pkg/version"
)

// StreamList is the body of GET /api/v1/streams.
type StreamList struct {
	Streams []*registry.Stream `json:"streams"`
	Count   int                `json:"count"`
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=3600")
	s.writeJSON(w, r, http.StatusOK, version.GetInfo())
}

func (s *Server) handleListStreams(w http.ResponseWriter, r *http.Request) {
	streams, err := s.registry.List(r.Context())
	if err != nil {
		s.errorHandler.HandleError(w, r, apperrors.WrapInternalError(err, "Failed to list streams"))
		return
	}

	for i, stream := range streams {
		streams[i] = s.local(stream)
	}

	s.writeJSON(w, r, http.StatusOK, StreamList{Streams: streams, Count: len(streams)})
}

func (s *Server) handleGetStream(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	stream, err := s.registry.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, registry.ErrStreamNotFound) {
			s.errorHandler.HandleError(w, r, apperrors.NewStreamNotFoundError(id))
			return
		}
		s.errorHandler.HandleError(w, r, apperrors.WrapInternalError(err, "Failed to get stream"))
		return
	}

	s.writeJSON(w, r, http.StatusOK, s.local(stream))
}

func (s *Server) handleDisconnectStream(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if s.sessions == nil || !s.sessions.Disconnect(id) {
		s.errorHandler.HandleError(w, r, apperrors.NewStreamNotFoundError(id))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// local prefers the live snapshot of a stream served by this process over
// the registry copy, which lags by up to one heartbeat.
func (s *Server) local(stream *registry.Stream) *registry.Stream {
	if s.sessions == nil {
		return stream
	}
	if live, ok := s.sessions.Session(stream.ID); ok {
		return live
	}
	return stream
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(body, '\n'))
}
