package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	runtimepkg "github.com/drblury/narrator/internal/runtime"
	loggingpkg "github.com/drblury/narrator/internal/runtime/logging"
	"github.com/drblury/narrator/messages"
	bridge "github.com/drblury/narrator/transport/watermill"
)

type phonemizeOptions struct {
	bookID        string
	sectionID     int64
	trackID       int64
	text          string
	voice         string
	correlationID string
}

func newPublishPhonemizeCommand(a *app) *cobra.Command {
	opts := &phonemizeOptions{}
	cmd := &cobra.Command{
		Use:   "publish-phonemize",
		Short: "Publish one phonemize request",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := opts.request()
			if err != nil {
				return err
			}
			client, _, err := a.newClient()
			if err != nil {
				return err
			}
			defer a.closeClient(client)

			var publishOpts []runtimepkg.PublishOption
			if opts.correlationID != "" {
				publishOpts = append(publishOpts, runtimepkg.WithCorrelationID(opts.correlationID))
			}
			if err := client.Publish(cmd.Context(), messages.KindPhonemize, req, publishOpts...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s for book %s section %d\n", messages.KindPhonemize, req.BookID, req.SectionID)
			return nil
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&opts.bookID, "book-id", "", "book UUID (random when empty)")
	fs.Int64Var(&opts.sectionID, "section-id", 0, "section id")
	fs.Int64Var(&opts.trackID, "track-id", 0, "track id")
	fs.StringVar(&opts.text, "text", "", "section text to phonemize")
	fs.StringVar(&opts.voice, "voice", messages.DefaultVoice, "voice name")
	fs.StringVar(&opts.correlationID, "correlation-id", "", "correlation id header")
	return cmd
}

func (o *phonemizeOptions) request() (*messages.PhonemizeRequest, error) {
	bookID := uuid.New()
	if o.bookID != "" {
		parsed, err := uuid.Parse(o.bookID)
		if err != nil {
			return nil, fmt.Errorf("book id: %w", err)
		}
		bookID = parsed
	}
	if o.sectionID == 0 {
		return nil, fmt.Errorf("--section-id is required")
	}
	if strings.TrimSpace(o.text) == "" {
		return nil, fmt.Errorf("--text is required")
	}
	return &messages.PhonemizeRequest{
		BookID:    bookID,
		SectionID: o.sectionID,
		TrackID:   o.trackID,
		Text:      o.text,
		Voice:     o.voice,
	}, nil
}

// newPublishCommand relays a raw JSON body through the watermill bridge.
func newPublishCommand(a *app) *cobra.Command {
	var (
		kind    string
		headers []string
	)
	cmd := &cobra.Command{
		Use:   "publish ROUTING_KEY [BODY]",
		Short: "Publish a raw JSON body; reads stdin when BODY is omitted",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if kind == "" {
				kind = args[0]
			}
			body, err := readBody(cmd.InOrStdin(), args[1:])
			if err != nil {
				return err
			}
			msg, err := rawMessage(cmd.Context(), kind, body, headers)
			if err != nil {
				return err
			}

			client, _, err := a.newClient()
			if err != nil {
				return err
			}
			defer a.closeClient(client)

			pub, err := bridge.NewPublisher(client, loggingpkg.NewWatermillAdapter(a.logger))
			if err != nil {
				return err
			}
			defer pub.Close()

			if err := pub.Publish(args[0], msg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s on %s\n", kind, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "message kind (defaults to the routing key)")
	cmd.Flags().StringArrayVar(&headers, "header", nil, "extra header as key=value, repeatable")
	return cmd
}

func readBody(stdin io.Reader, args []string) ([]byte, error) {
	if len(args) > 0 {
		return []byte(args[0]), nil
	}
	return io.ReadAll(stdin)
}

func rawMessage(ctx context.Context, kind string, body []byte, headers []string) (*message.Message, error) {
	msg := message.NewMessage(watermill.NewULID(), body)
	for _, h := range headers {
		key, value, ok := strings.Cut(h, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("header %q: want key=value", h)
		}
		msg.Metadata.Set(key, value)
	}
	msg.Metadata.Set(bridge.MetadataKeyKind, kind)
	if ctx != nil {
		msg.SetContext(ctx)
	}
	return msg, nil
}
