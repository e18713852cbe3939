package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tablesync/internal/model"
	"github.com/roach88/tablesync/internal/queue"
	"github.com/roach88/tablesync/internal/schema"
)

// PayloadOptions holds the payload source flags shared by order and action.
type PayloadOptions struct {
	*RootOptions
	Payload string // inline JSON
	File    string // JSON file, "-" for stdin
}

func (o *PayloadOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.Payload, "payload", "p", "", "payload JSON")
	cmd.Flags().StringVarP(&o.File, "file", "f", "", "read payload JSON from file (- for stdin)")
	cmd.MarkFlagsMutuallyExclusive("payload", "file")
	cmd.MarkFlagsOneRequired("payload", "file")
}

func (o *PayloadOptions) read(stdin io.Reader) ([]byte, error) {
	switch o.File {
	case "":
		return []byte(o.Payload), nil
	case "-":
		return io.ReadAll(stdin)
	default:
		return os.ReadFile(o.File)
	}
}

// EnqueuedView describes one enqueued entry.
type EnqueuedView struct {
	ID        string      `json:"id"`
	Queue     model.Queue `json:"queue"`
	Kind      string      `json:"kind"`
	Timestamp int64       `json:"timestamp"`
}

// Text implements Texter.
func (v EnqueuedView) Text() string {
	return fmt.Sprintf("✓ queued %s %s at %d\n", v.Kind, v.ID, v.Timestamp)
}

// NewOrderCommand creates the order command.
func NewOrderCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PayloadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "order",
		Short: "Queue an order submission",
		Long: `Validate an order payload and append it to the orders queue.

The order is created remotely on the next sync pass.

Examples:
  tablesync order --payload '{"items":[{"menuItemId":"m1","quantity":2,"price":450}],"total":900}'
  tablesync order --file order.json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrder(opts, cmd)
		},
	}
	opts.bind(cmd)
	return cmd
}

func runOrder(opts *PayloadOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	data, err := opts.read(cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read payload", err)
	}

	app, err := OpenApp(cmd.Context(), opts.RootOptions)
	if err != nil {
		return err
	}
	defer app.Close()

	view, err := enqueueOrder(cmd.Context(), app.Validator, app.Queue, data)
	if err != nil {
		return payloadFailure(out, err)
	}
	return out.Success(view)
}

// NewActionCommand creates the action command.
func NewActionCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PayloadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "action <kind>",
		Short: "Queue an administrative change",
		Long: `Validate an admin action payload and append it to the actions queue.

Kinds: ` + strings.Join(kindNames(), ", ") + `

Examples:
  tablesync action createCategory --payload '{"title":"Drinks"}'
  tablesync action updateMenuItem --payload '{"id":"m1","data":{"price":500}}'
  tablesync action deleteTable --payload '{"id":"t1"}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(opts, args[0], cmd)
		},
	}
	opts.bind(cmd)
	return cmd
}

func runAction(opts *PayloadOptions, kind string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	data, err := opts.read(cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read payload", err)
	}

	app, err := OpenApp(cmd.Context(), opts.RootOptions)
	if err != nil {
		return err
	}
	defer app.Close()

	view, err := enqueueAction(cmd.Context(), app.Validator, app.Queue, kind, data)
	if err != nil {
		return payloadFailure(out, err)
	}
	return out.Success(view)
}

func enqueueOrder(ctx context.Context, v *schema.Validator, q *queue.Queue, data []byte) (EnqueuedView, error) {
	payload, err := v.Order(data)
	if err != nil {
		return EnqueuedView{}, err
	}
	sub, err := q.EnqueueOrder(ctx, payload)
	if err != nil {
		return EnqueuedView{}, err
	}
	return EnqueuedView{ID: sub.ID, Queue: model.QueueOrders, Kind: "order", Timestamp: sub.Timestamp}, nil
}

func enqueueAction(ctx context.Context, v *schema.Validator, q *queue.Queue, kind string, data []byte) (EnqueuedView, error) {
	k := model.ActionKind(kind)
	action, err := v.Action(k, data)
	if err != nil {
		return EnqueuedView{}, err
	}
	act, err := q.EnqueueAction(ctx, action)
	if err != nil {
		return EnqueuedView{}, err
	}
	return EnqueuedView{ID: act.ID, Queue: model.QueueActions, Kind: string(k), Timestamp: act.Timestamp}, nil
}

// payloadFailure reports validation errors as E101 and anything else as a
// queue failure.
func payloadFailure(out *OutputFormatter, err error) error {
	var verrs schema.Errors
	if errors.As(err, &verrs) {
		return out.Fail(ExitCommandError, CodeInvalidPayload, "invalid payload", err)
	}
	return out.Fail(ExitCommandError, CodeQueue, "failed to enqueue", err)
}

func kindNames() []string {
	kinds := model.ActionKinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return names
}
