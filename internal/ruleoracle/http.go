package ruleoracle

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
)

const EvaluatePath = "/api/rules/evaluate"

// HTTPOracle calls a remote rule service.
type HTTPOracle struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
}

func NewHTTPOracle(baseURL string, timeout time.Duration, client *http.Client) *HTTPOracle {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPOracle{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		timeout: timeout,
	}
}

func (o *HTTPOracle) Evaluate(ctx context.Context, req EvaluateRequest) ([]Verdict, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	ctx, span := otel.Tracer("ruleoracle").Start(ctx, "ruleoracle.Evaluate")
	defer span.End()
	span.SetAttributes(
		attribute.String("request.id", req.RequestID),
		attribute.Int64("user.id", req.UserID),
		attribute.Int("collections", len(req.CollectionIDs)),
	)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "encode evaluate request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+EvaluatePath, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build evaluate request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := o.client.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rule service unreachable")
		return nil, errors.Wrap(err, "call rule service")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := errors.Errorf("rule service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var out EvaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "decode evaluate response")
	}
	return out.Verdicts, nil
}
