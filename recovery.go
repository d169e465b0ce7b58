package rrdcached

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/pior/rrdcached/protocol"
	"go.uber.org/zap"
)

// RecoveryPolicy creates missing files on demand: when an update is
// rejected because its file does not exist, the file is created and the
// update is sent once more. There is exactly one create-then-retry cycle.
//
// The same policy serves immediate updates and the updates of a committed
// batch; in the batch case recovery runs only after the batch reply has
// been fully read.
type RecoveryPolicy struct {
	// DefaultCreateDefs are the definition tokens used when a create has no
	// explicit definitions, e.g. []string{"DS:value:GAUGE:600:U:U", "RRA:AVERAGE:0.5:1:288"}.
	DefaultCreateDefs []string

	// DefaultStep is sent as "-s <seconds>" when the resolved definitions
	// carry no step option. Zero leaves the daemon's default.
	DefaultStep time.Duration

	// Disabled turns auto-create off: missing-file errors are returned as is.
	Disabled bool

	// OnAutoCreate, when set, is called once the missing file was created
	// (or found to exist), before the update is retried.
	OnAutoCreate func(file string)
}

// roundTripper performs one command/response cycle on an idle connection.
type roundTripper interface {
	roundTrip(ctx context.Context, cmd protocol.Command) (*protocol.Response, error)
}

// CreateDefs resolves the definitions used to create file: explicit ones
// first, the policy defaults otherwise. It fails with
// *MissingCreateParametersError when both are empty.
func (p *RecoveryPolicy) CreateDefs(file string, explicit []string) ([]string, error) {
	defs := explicit
	if len(defs) == 0 {
		defs = p.DefaultCreateDefs
	}
	if len(defs) == 0 {
		return nil, &MissingCreateParametersError{File: file}
	}

	if p.DefaultStep > 0 && !hasStepOption(defs) {
		step := strconv.FormatInt(int64(p.DefaultStep/time.Second), 10)
		defs = append([]string{"-s", step}, defs...)
	}
	return defs, nil
}

// Applies reports whether an update that received status should be
// recovered by creating its file. Any non-zero status counts as a failure,
// which covers both immediate replies and the lines of a batch reply.
func (p *RecoveryPolicy) Applies(status protocol.Status) bool {
	return !p.Disabled && status.Failed() && protocol.IsMissingFile(status.Message)
}

// recover runs the create-then-retry cycle for upd. The definitions are
// resolved before anything is written.
func (p *RecoveryPolicy) recover(ctx context.Context, rt roundTripper, upd protocol.Update, explicit []string, logger *zap.Logger) error {
	defs, err := p.CreateDefs(upd.File, explicit)
	if err != nil {
		return err
	}

	logger.Info("auto-creating missing file", zap.String("file", upd.File))

	resp, err := rt.roundTrip(ctx, protocol.Create{File: upd.File, Defs: defs})
	if err != nil {
		return err
	}
	if resp.Status.IsError() {
		if !protocol.IsFileExists(resp.Status.Message) {
			return &CreateFailedError{File: upd.File, Err: protocol.NewServerError(resp.Status, upd.File)}
		}
		// Created concurrently by someone else
		logger.Debug("file already exists", zap.String("file", upd.File))
	}
	if p.OnAutoCreate != nil {
		p.OnAutoCreate(upd.File)
	}

	resp, err = rt.roundTrip(ctx, upd)
	if err != nil {
		return err
	}
	if resp.Status.IsError() {
		return &RecoveryExhaustedError{File: upd.File, Err: protocol.NewServerError(resp.Status, upd.File)}
	}
	return nil
}

func hasStepOption(defs []string) bool {
	return slices.ContainsFunc(defs, func(d string) bool {
		return strings.HasPrefix(d, "-s") || strings.HasPrefix(d, "--step")
	})
}
