package api

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client is a typed client for CoverageService.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// ComputeCoverage runs one computation and waits for the full reply.
func (c *Client) ComputeCoverage(ctx context.Context, req ComputeRequest, opts ...grpc.CallOption) (*ComputeResponse, error) {
	in, err := req.Struct()
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ComputeCoverageMethod, in, out, opts...); err != nil {
		return nil, err
	}
	var resp ComputeResponse
	if err := FromStruct(out, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StreamCoverage runs one computation, calling onRay for each ray as the
// server reports it. It returns the final message once the stream ends.
// An error from onRay cancels the call.
func (c *Client) StreamCoverage(ctx context.Context, req ComputeRequest, onRay func(RayMessage) error, opts ...grpc.CallOption) (*DoneMessage, error) {
	in, err := req.Struct()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.cc.NewStream(ctx, &CoverageServiceDesc.Streams[0], StreamCoverageMethod, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}

	var done *DoneMessage
	for {
		msg := new(structpb.Struct)
		err := stream.RecvMsg(msg)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		if msg.GetFields()["done"].GetBoolValue() {
			done = new(DoneMessage)
			if err := FromStruct(msg, done); err != nil {
				return nil, err
			}
			continue
		}
		var ray RayMessage
		if err := FromStruct(msg, &ray); err != nil {
			return nil, err
		}
		if onRay != nil {
			if err := onRay(ray); err != nil {
				return nil, err
			}
		}
	}
	if done == nil {
		return nil, fmt.Errorf("stream ended without a final message")
	}
	return done, nil
}

// ListSites returns the server's registered sites.
func (c *Client) ListSites(ctx context.Context, opts ...grpc.CallOption) ([]SiteSummary, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ListSitesMethod, &structpb.Struct{}, out, opts...); err != nil {
		return nil, err
	}
	var resp listSitesResponse
	if err := FromStruct(out, &resp); err != nil {
		return nil, err
	}
	return resp.Sites, nil
}
