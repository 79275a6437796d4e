// Copyright 2026 Zerobus Wrapper Authors. All Rights Reserved.
//
// Created: August 2026
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sdkclient

import (
	"context"
	"crypto/tls"
	"strings"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"

	"zerobus/internal/auth"
	"zerobus/internal/wire"
	"zerobus/zerr"
)

const ingestMethod = "/zerobus.v1.IngestService/IngestRecords"

// Client is the gRPC-backed SDK implementation. One Client is shared
// process-wide; streams are created per destination table.
type Client struct {
	conn *grpc.ClientConn
	log  *zap.Logger
}

// Dial connects to the ingest endpoint. https endpoints use TLS, http
// endpoints plaintext. Tokens are attached per RPC from the token source.
func Dial(endpoint string, tokens *auth.TokenSource, log *zap.Logger) (*Client, error) {
	const op = "create sdk"

	var (
		target string
		creds  credentials.TransportCredentials
		secure bool
	)
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		target = strings.TrimPrefix(endpoint, "https://")
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
		secure = true
	case strings.HasPrefix(endpoint, "http://"):
		target = strings.TrimPrefix(endpoint, "http://")
		creds = insecure.NewCredentials()
	default:
		return nil, zerr.New(zerr.Configuration, op,
			"endpoint must start with 'https://' or 'http://', got: %q", endpoint)
	}

	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if tokens != nil {
		opts = append(opts, grpc.WithPerRPCCredentials(&tokenCredentials{tokens: tokens, secure: secure}))
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, zerr.Wrapf(zerr.Connection, op, err, "endpoint %s", endpoint)
	}
	log.Debug("sdk connected", zap.String("endpoint", endpoint))
	return &Client{conn: conn, log: log}, nil
}

// CreateStream opens the bidirectional ingest stream and sends the
// handshake frame carrying the table name and its descriptor set.
func (c *Client) CreateStream(ctx context.Context, table string, desc *descriptorpb.DescriptorProto) (Stream, error) {
	const op = "create stream"

	gs, err := c.conn.NewStream(ctx, &grpc.StreamDesc{
		StreamName:    "IngestRecords",
		ClientStreams: true,
		ServerStreams: true,
	}, ingestMethod, grpc.ForceCodec(rawCodec{}))
	if err != nil {
		return nil, classify(op, table, err)
	}

	header, err := handshakeFrame(table, desc)
	if err != nil {
		return nil, err
	}
	if err := gs.SendMsg(&header); err != nil {
		return nil, classify(op, table, err)
	}
	var ack []byte
	if err := gs.RecvMsg(&ack); err != nil {
		return nil, classify(op, table, err)
	}

	c.log.Debug("stream created", zap.String("table", table))
	return &grpcStream{gs: gs, table: table}, nil
}

// Close tears down the shared connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// handshakeFrame frames the table name (field 1) and the serialized
// FileDescriptorSet (field 2) for the stream-open message.
func handshakeFrame(table string, desc *descriptorpb.DescriptorProto) ([]byte, error) {
	set := &descriptorpb.FileDescriptorSet{
		File: []*descriptorpb.FileDescriptorProto{{
			Name:        proto.String("zerobus_ingest.proto"),
			Package:     proto.String("zerobus.ingest"),
			Syntax:      proto.String("proto2"),
			MessageType: []*descriptorpb.DescriptorProto{desc},
		}},
	}
	raw, err := proto.Marshal(set)
	if err != nil {
		return nil, zerr.Wrapf(zerr.Conversion, "create stream", err, "serialize descriptor set")
	}
	var buf []byte
	buf = wire.AppendTag(buf, 1, wire.TypeLengthDelimited)
	buf = wire.AppendLengthDelimitedString(buf, table)
	buf = wire.AppendTag(buf, 2, wire.TypeLengthDelimited)
	buf = wire.AppendLengthDelimited(buf, raw)
	return buf, nil
}

type grpcStream struct {
	gs    grpc.ClientStream
	table string

	mu     sync.Mutex
	closed bool
}

// IngestRecord sends one wire record and waits for its acknowledgement.
func (s *grpcStream) IngestRecord(ctx context.Context, payload []byte) error {
	const op = "ingest record"
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return zerr.New(zerr.Connection, op, "table %s: stream closed", s.table)
	}
	if err := ctx.Err(); err != nil {
		return zerr.Wrapf(zerr.Connection, op, err, "table %s", s.table)
	}
	if err := s.gs.SendMsg(&payload); err != nil {
		return classify(op, s.table, err)
	}
	var ack []byte
	if err := s.gs.RecvMsg(&ack); err != nil {
		return classify(op, s.table, err)
	}
	return nil
}

// Close half-closes the send side. It does not wait for or read the
// server's final status.
func (s *grpcStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.gs.CloseSend(); err != nil {
		return classify("close stream", s.table, err)
	}
	return nil
}

// classify maps transport failures onto the taxonomy. Overload keeps its
// structural marker so the session manager can install the cooldown.
func classify(op, table string, err error) error {
	if IsServerOverload(err) {
		return zerr.Wrapf(zerr.Connection, op, &OverloadError{Err: err}, "table %s", table)
	}
	if IsAuthRejected(err) {
		return zerr.Wrapf(zerr.Authentication, op, err, "table %s", table)
	}
	if IsStreamClosed(err) {
		return zerr.Wrapf(zerr.Connection, op, err, "table %s", table)
	}
	return zerr.Wrapf(zerr.Transmission, op, err, "table %s", table)
}

// rawCodec moves opaque byte frames through gRPC without a generated stub.
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	b, ok := v.(*[]byte)
	if !ok {
		return nil, zerr.New(zerr.Transmission, "marshal frame", "unexpected frame type %T", v)
	}
	return *b, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return zerr.New(zerr.Transmission, "unmarshal frame", "unexpected frame type %T", v)
	}
	*b = data
	return nil
}

func (rawCodec) Name() string { return "zerobus-raw" }

// tokenCredentials attaches the OAuth2 bearer token to every RPC.
type tokenCredentials struct {
	tokens *auth.TokenSource
	secure bool
}

func (t *tokenCredentials) GetRequestMetadata(ctx context.Context, _ ...string) (map[string]string, error) {
	tok, err := t.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{"authorization": "Bearer " + tok}, nil
}

func (t *tokenCredentials) RequireTransportSecurity() bool { return t.secure }
