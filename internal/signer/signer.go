// Package signer derives the per-request signature header set from the
// browser collaborator's signing primitives. The platform's signing algorithm
// is proprietary and is consumed strictly as a black box: the raw material
// comes out of a live page, and the combining function is injected.
package signer

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/RockyZHH/MediaCrawler/api/schemas"
	"github.com/RockyZHH/MediaCrawler/internal/session"
)

// PageEvaluator is the narrow interface onto the browser-automation
// collaborator: evaluate one JavaScript expression in the logged-in page and
// decode its result into out.
type PageEvaluator interface {
	Evaluate(ctx context.Context, expression string, out any) error
}

// SignFunc combines the session cookie a1, the page-local b1 value and the
// raw oracle output (xs, xt) into the four signature headers. It must be
// deterministic for identical inputs and must never be a reimplementation of
// the platform algorithm inside this module; see ScriptSignFunc.
type SignFunc func(ctx context.Context, a1, b1, xs, xt string) (schemas.SignatureHeaders, error)

// Signer produces the signature headers covering one request.
type Signer interface {
	Sign(ctx context.Context, url string, body any) (schemas.SignatureHeaders, error)
}

// encryptedParams is the shape returned by the page-side signing entry point.
// X-t arrives as a JavaScript number.
type encryptedParams struct {
	XS string      `json:"X-s"`
	XT json.Number `json:"X-t"`
}

// Oracle adapts the page oracle into a Signer. On success it installs all
// four headers into the session state in one step before returning them; on
// any failure the session headers are left untouched.
type Oracle struct {
	page   PageEvaluator
	state  *session.State
	fn     SignFunc
	logger *zap.Logger
}

// NewOracle wires the oracle adapter. fn is the injected combining function.
func NewOracle(page PageEvaluator, state *session.State, fn SignFunc, logger *zap.Logger) *Oracle {
	return &Oracle{page: page, state: state, fn: fn, logger: logger.Named("signer")}
}

var _ Signer = (*Oracle)(nil)

// Sign obtains the raw signing material for url (and the unserialized body,
// which may be nil) and returns the derived header set. Oracle failures are
// fatal to the call; there is no retry here.
func (o *Oracle) Sign(ctx context.Context, url string, body any) (schemas.SignatureHeaders, error) {
	urlArg, err := json.Marshal(url)
	if err != nil {
		return schemas.SignatureHeaders{}, fmt.Errorf("sign: encode url: %w", err)
	}
	bodyArg, err := json.Marshal(body)
	if err != nil {
		return schemas.SignatureHeaders{}, fmt.Errorf("sign: encode body: %w", err)
	}

	var enc encryptedParams
	expr := fmt.Sprintf("window._webmsxyw(%s, %s)", urlArg, bodyArg)
	if err := o.page.Evaluate(ctx, expr, &enc); err != nil {
		return schemas.SignatureHeaders{}, fmt.Errorf("sign: oracle evaluation failed: %w", err)
	}

	var local map[string]string
	if err := o.page.Evaluate(ctx, `(() => Object.assign({}, window.localStorage))()`, &local); err != nil {
		return schemas.SignatureHeaders{}, fmt.Errorf("sign: local storage snapshot failed: %w", err)
	}

	a1 := o.state.CookieValue("a1")
	headers, err := o.fn(ctx, a1, local["b1"], enc.XS, enc.XT.String())
	if err != nil {
		return schemas.SignatureHeaders{}, fmt.Errorf("sign: combine: %w", err)
	}
	if !headers.Complete() {
		return schemas.SignatureHeaders{}, fmt.Errorf("sign: combiner returned an incomplete header set")
	}

	if err := o.state.ApplySignature(headers); err != nil {
		return schemas.SignatureHeaders{}, err
	}
	o.logger.Debug("request signed", zap.String("url", url))
	return headers, nil
}

// scriptResult mirrors the key names the page-side combiner emits.
type scriptResult struct {
	XS      string `json:"x-s"`
	XT      string `json:"x-t"`
	XCommon string `json:"x-s-common"`
	TraceID string `json:"x-b3-traceid"`
}

// ScriptSignFunc returns a SignFunc that delegates the combining step to a
// caller-supplied JavaScript function expression evaluated in the page, so
// the algorithm stays outside this binary. The expression must evaluate to a
// function of (a1, b1, xs, xt) returning the lowercase header object.
func ScriptSignFunc(page PageEvaluator, script string) SignFunc {
	return func(ctx context.Context, a1, b1, xs, xt string) (schemas.SignatureHeaders, error) {
		args, err := json.Marshal([]string{a1, b1, xs, xt})
		if err != nil {
			return schemas.SignatureHeaders{}, err
		}
		var res scriptResult
		expr := fmt.Sprintf("(%s).apply(null, %s)", script, args)
		if err := page.Evaluate(ctx, expr, &res); err != nil {
			return schemas.SignatureHeaders{}, fmt.Errorf("sign script: %w", err)
		}
		return schemas.SignatureHeaders{
			XS:      res.XS,
			XT:      res.XT,
			XCommon: res.XCommon,
			TraceID: res.TraceID,
		}, nil
	}
}
