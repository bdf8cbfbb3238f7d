// Package cluster launches and tears down groups of worker guests.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/distbench/vmhost/lib/flatcar"
	"github.com/distbench/vmhost/lib/guestcfg"
	"github.com/distbench/vmhost/lib/logger"
	"github.com/distbench/vmhost/lib/network"
	"github.com/distbench/vmhost/lib/qemu"
)

// coordinatorID is the worker id guests report as their parent.
const coordinatorID = 1

// Config sizes the cluster and describes the workers it runs.
type Config struct {
	Workers      int
	ImagePath    string
	RegistryPort int
	LogLevel     string

	// Cores and MemoryMB override the hypervisor defaults when non-zero.
	Cores    int
	MemoryMB int

	Sources    []guestcfg.TCPSource
	Processing guestcfg.QueryProcessing
}

// Node is one running worker guest.
type Node struct {
	ID     int
	Handle *qemu.Handle
	Lease  *network.TapUser
}

// Cluster owns the nodes it launched. Launch once, then Shutdown.
type Cluster struct {
	registry *guestcfg.Registry
	network  network.Manager
	cfg      Config

	mu    sync.Mutex
	nodes []*Node
}

func New(registry *guestcfg.Registry, netManager network.Manager, cfg Config) *Cluster {
	return &Cluster{registry: registry, network: netManager, cfg: cfg}
}

// Launch starts all workers concurrently. The first failure cancels
// the remaining launches between their steps; nodes that came up stay
// up and are torn down by Shutdown.
func (c *Cluster) Launch(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for id := 1; id <= c.cfg.Workers; id++ {
		id := id
		g.Go(func() error {
			return c.launchNode(ctx, id)
		})
	}
	return g.Wait()
}

func (c *Cluster) launchNode(ctx context.Context, id int) error {
	lease, err := c.network.GetTap(ctx)
	if err != nil {
		return fmt.Errorf("worker %d: %w", id, err)
	}

	release := func() {
		if err := lease.Release(ctx); err != nil {
			logger.FromContext(ctx).Error("releasing tap after failed launch",
				"node_id", id, "error", err)
		}
	}

	if err := ctx.Err(); err != nil {
		release()
		return err
	}

	wc := guestcfg.WorkerConfiguration{
		WorkerID:     id,
		ParentID:     coordinatorID,
		IPAddr:       lease.IP(),
		HostIPAddr:   c.network.HostIP(),
		PrefixLen:    c.network.PrefixLen(),
		RegistryPort: c.cfg.RegistryPort,
		LogLevel:     c.cfg.LogLevel,
		Sources:      c.cfg.Sources,
		Processing:   c.cfg.Processing,
	}

	lc, err := flatcar.PrepareLaunch(c.registry, wc, c.cfg.ImagePath, lease)
	if err != nil {
		release()
		return fmt.Errorf("worker %d: %w", id, err)
	}
	lc.Cores = c.cfg.Cores
	lc.MemoryMB = c.cfg.MemoryMB

	if err := ctx.Err(); err != nil {
		os.RemoveAll(lc.Dir())
		release()
		return err
	}

	handle, err := qemu.Start(ctx, lc)
	if err != nil {
		os.RemoveAll(lc.Dir())
		release()
		return fmt.Errorf("worker %d: %w", id, err)
	}

	c.mu.Lock()
	c.nodes = append(c.nodes, &Node{ID: id, Handle: handle, Lease: lease})
	c.mu.Unlock()

	logger.FromContext(ctx).Info("worker launched",
		"node_id", id, "ip", lease.IP().String(), "tap", lease.Name())
	return nil
}

// Nodes returns the running nodes ordered by id.
func (c *Cluster) Nodes() []*Node {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*Node, len(c.nodes))
	copy(out, c.nodes)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TailSerials streams every node's console, logging each line tagged
// with the node id. It returns when all streams end or ctx is
// cancelled.
func (c *Cluster) TailSerials(ctx context.Context) error {
	log := logger.FromContext(ctx)

	g, ctx := errgroup.WithContext(ctx)
	for _, node := range c.Nodes() {
		node := node
		g.Go(func() error {
			return qemu.StreamSerial(ctx, node.Handle.SerialSocketPath(), func(line string) {
				log.Info(line, "node_id", node.ID)
			})
		})
	}
	return g.Wait()
}

// Shutdown stops every node and releases its lease, continuing past
// individual failures and reporting them together.
func (c *Cluster) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	nodes := c.nodes
	c.nodes = nil
	c.mu.Unlock()

	var errs []error
	for _, node := range nodes {
		if err := node.Handle.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping worker %d: %w", node.ID, err))
		}
		if err := node.Lease.Release(ctx); err != nil {
			errs = append(errs, fmt.Errorf("releasing worker %d tap: %w", node.ID, err))
		}
	}
	return errors.Join(errs...)
}
