package modhost

import (
	"context"

	"github.com/GoCodeAlone/modhost/deploy"
)

// deployHost drives the framework from the deploy directory.
type deployHost struct{ fw *Framework }

var _ deploy.Host = deployHost{}

func (h deployHost) Install(ctx context.Context, location string) (int64, error) {
	m, err := h.fw.Install(ctx, location, nil)
	if err != nil {
		return 0, err
	}
	return m.ID(), nil
}

func (h deployHost) Update(ctx context.Context, id int64) error {
	return h.fw.Update(ctx, id, nil)
}

func (h deployHost) Uninstall(ctx context.Context, id int64) error {
	return h.fw.Uninstall(ctx, id)
}

func (h deployHost) Start(ctx context.Context, id int64) error {
	if m, err := h.fw.module(id); err == nil && m.IsFragment() {
		return nil
	}
	return h.fw.StartModule(ctx, id, UseActivationPolicy())
}

func (h deployHost) Refresh(ctx context.Context) error {
	return h.fw.Refresh(ctx)
}
