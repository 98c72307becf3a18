package server

import (
	"context"
	"strings"

	"connectrpc.com/connect"
)

// Client calls an EvalService over HTTP.
type Client struct {
	run     *connect.Client[RunRequest, RunResponse]
	compile *connect.Client[CompileRequest, CompileResponse]
	check   *connect.Client[CheckRequest, CheckResponse]
}

// NewClient creates a client for the server at baseURL. It speaks JSON
// unless ClientCodec selects another encoding; connect.WithGRPC switches
// to the gRPC protocol.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return &Client{
		run:     connect.NewClient[RunRequest, RunResponse](httpClient, baseURL+RunProcedure, opts...),
		compile: connect.NewClient[CompileRequest, CompileResponse](httpClient, baseURL+CompileProcedure, opts...),
		check:   connect.NewClient[CheckRequest, CheckResponse](httpClient, baseURL+CheckProcedure, opts...),
	}
}

// Run calls the Run procedure.
func (c *Client) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	res, err := c.run.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

// Compile calls the Compile procedure.
func (c *Client) Compile(ctx context.Context, req *CompileRequest) (*CompileResponse, error) {
	res, err := c.compile.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

// Check calls the Check procedure.
func (c *Client) Check(ctx context.Context, req *CheckRequest) (*CheckResponse, error) {
	res, err := c.check.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}
