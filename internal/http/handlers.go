package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/labstack/echo/v4"

	"medintake-chatbot/internal/core"
	"medintake-chatbot/internal/db"
	"medintake-chatbot/pkg"
)

// handleChat relays the reply as plain text, flushing every fragment as soon
// as it arrives.  Session id, stage and newly created patient details travel
// in response headers so the text stream stays free of structured data.
func (s *Server) handleChat(c echo.Context) error {
	var req pkg.ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, pkg.ErrorResponse{Error: "invalid JSON body"})
	}
	reply, err := s.Chat.Reply(c.Request().Context(), req)
	if err != nil {
		return s.errorResponse(c, err)
	}
	defer reply.Stream.Close()

	res := c.Response()
	h := res.Header()
	h.Set(echo.HeaderContentType, "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	h.Set(HeaderSessionID, reply.SessionID)
	h.Set(HeaderChatStage, reply.Route)
	if reply.Patient != nil {
		if data, err := asciiJSON(reply.Patient); err == nil {
			h.Set(HeaderPatientData, data)
		}
	}
	res.WriteHeader(http.StatusOK)
	res.Flush()

	for {
		fragment, err := reply.Stream.Recv()
		if err != nil {
			return nil
		}
		if _, err := io.WriteString(res, fragment); err != nil {
			// The client went away; closing the stream releases upstream.
			s.Log.Debug().Err(err).Str("session_id", reply.SessionID).Msg("client disconnected")
			return nil
		}
		res.Flush()
	}
}

func (s *Server) handleSave(c echo.Context) error {
	var req pkg.SaveRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, pkg.ErrorResponse{Error: "invalid JSON body"})
	}
	t, err := s.Chat.Save(c.Request().Context(), req)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, pkg.SaveResponse{
		Message:   fmt.Sprintf("Chat disimpan untuk sesi %s", t.SessionID),
		SessionID: t.SessionID,
	})
}

func (s *Server) handleLookup(c echo.Context) error {
	rec, err := s.Chat.LookupPatient(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) handleExport(c echo.Context) error {
	sessionID := c.Param("id")
	t, err := s.Chat.Transcript(c.Request().Context(), sessionID)
	if err != nil {
		return s.errorResponse(c, err)
	}
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/csv; charset=utf-8")
	res.Header().Set(echo.HeaderContentDisposition, "attachment; filename="+strconv.Quote("chat_"+sessionID+".csv"))
	res.WriteHeader(http.StatusOK)
	return core.WriteTranscriptCSV(res, t)
}

func (s *Server) errorResponse(c echo.Context, err error) error {
	switch {
	case errors.Is(err, core.ErrValidation):
		return c.JSON(http.StatusBadRequest, pkg.ErrorResponse{Error: err.Error()})
	case errors.Is(err, db.ErrNotFound):
		return c.JSON(http.StatusNotFound, pkg.ErrorResponse{Error: "not found"})
	default:
		s.Log.Error().Err(err).Str("path", c.Request().URL.Path).Msg("request failed")
		return c.JSON(http.StatusInternalServerError, pkg.ErrorResponse{Error: core.ErrPersistence.Error()})
	}
}

// asciiJSON marshals v and escapes every non-ASCII rune, so the result is
// safe to carry in a header value.
func asciiJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		data = data[size:]
		if r < utf8.RuneSelf {
			b.WriteRune(r)
			continue
		}
		if r > 0xFFFF {
			hi, lo := utf16.EncodeRune(r)
			fmt.Fprintf(&b, `\u%04x\u%04x`, hi, lo)
			continue
		}
		fmt.Fprintf(&b, `\u%04x`, r)
	}
	return b.String(), nil
}
