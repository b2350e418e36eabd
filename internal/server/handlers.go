package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"paig-gateway/internal/apperr"
	"paig-gateway/internal/models"
	"paig-gateway/internal/translator"
)

func (s *Server) handleChatCompletions(c echo.Context) error {
	var req translator.ChatCompletionRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	id := identityFrom(c)
	result, err := s.gw.Chat(c.Request().Context(), req.ToChatRequest(id.Owner, id.Access))
	if err != nil {
		return err
	}

	if result.Stream != nil {
		return s.writeChunkStream(c, result.Stream)
	}
	if result.Response == nil {
		return apperr.Upstream(http.StatusBadGateway, "upstream provider returned an empty response")
	}
	return c.JSON(http.StatusOK, result.Response)
}

// writeChunkStream relays canonical chunks as SSE data lines and ends with
// the [DONE] sentinel. Once headers are sent, failures can only be reported
// in-band.
func (s *Server) writeChunkStream(c echo.Context, stream *translator.Stream) error {
	defer stream.Close()

	res := c.Response()
	if _, ok := res.Writer.(http.Flusher); !ok {
		s.log.Error().Msg("http writer does not support flushing")
		return apperr.Internal("server does not support streaming responses")
	}

	header := res.Header()
	header.Set(echo.HeaderContentType, "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	log := s.log.With().Str("completion_id", stream.ID()).Logger()
	ctx := c.Request().Context()

	for {
		if ctx.Err() != nil {
			log.Info().Int("tokens_output", stream.OutputTokens()).Msg("client disconnected mid-stream")
			return nil
		}

		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			if _, werr := io.WriteString(res, "data: [DONE]\n\n"); werr != nil {
				log.Warn().Err(werr).Msg("write stream terminator")
				return nil
			}
			res.Flush()
			return nil
		}
		if err != nil {
			writeStreamError(res, err)
			res.Flush()
			return nil
		}

		if err := writeSSEData(res, translator.FromChunk(chunk)); err != nil {
			log.Warn().Err(err).Msg("write stream chunk")
			return nil
		}
		res.Flush()
	}
}

func writeSSEData(w io.Writer, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal SSE payload: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write SSE data: %w", err)
	}
	return nil
}

func writeStreamError(w io.Writer, err error) {
	var payload errorBody
	payload.Error.Message = "upstream stream interrupted"
	payload.Error.Type = string(apperr.CodeTransport)
	if appErr, ok := apperr.As(err); ok {
		payload.Error.Message = appErr.Message
		payload.Error.Type = string(appErr.Code)
		payload.Error.Code = errorCode(appErr)
	}
	_ = writeSSEData(w, payload)
}

type modelView struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type listView[T any] struct {
	Object string `json:"object"`
	Data   []T    `json:"data"`
}

func (s *Server) handleListModels(c echo.Context) error {
	id := identityFrom(c)
	descs, err := s.gw.ListModels(c.Request().Context(), id.Owner, id.Access)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toModelList(descs))
}

func toModelList(descs []models.AiModelDescriptor) listView[modelView] {
	out := listView[modelView]{Object: "list", Data: make([]modelView, 0, len(descs))}
	for _, d := range descs {
		out.Data = append(out.Data, modelView{
			ID:      d.ModelID,
			Object:  "model",
			Created: d.CreatedAt.Unix(),
			OwnedBy: string(d.Provider),
		})
	}
	return out
}

type usageView struct {
	Model         string    `json:"model"`
	BucketID      string    `json:"bucket_id"`
	Access        string    `json:"access"`
	WindowSeconds int64     `json:"window_seconds"`
	WindowStart   time.Time `json:"window_start"`
	MaxTokens     int       `json:"max_tokens"`
	Used          int       `json:"used"`
	Remaining     int       `json:"remaining"`
}

func (s *Server) handleUsage(c echo.Context) error {
	id := identityFrom(c)
	model := c.QueryParam("model")

	d, err := s.gw.Usage(c.Request().Context(), id.Owner, model, id.Access)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, usageView{
		Model:         model,
		BucketID:      d.Bucket.ID,
		Access:        string(d.Bucket.Access),
		WindowSeconds: int64(d.Bucket.Window / time.Second),
		WindowStart:   d.WindowStart,
		MaxTokens:     d.Bucket.MaxTokensInWindow,
		Used:          d.Used,
		Remaining:     d.Remaining,
	})
}
