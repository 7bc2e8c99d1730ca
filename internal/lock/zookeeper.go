package lock

import (
	"context"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"
)

const lockRoot = "/budget_locks"

// ZKConn is the subset of *zk.Conn used by ZKMutex.
type ZKConn interface {
	Exists(path string) (bool, *zk.Stat, error)
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	CreateProtectedEphemeralSequential(path string, data []byte, acl []zk.ACL) (string, error)
	Children(path string) ([]string, *zk.Stat, error)
	ExistsW(path string) (bool, *zk.Stat, <-chan zk.Event, error)
	Delete(path string, version int32) error
}

// ZKMutex queues holders as ephemeral sequential nodes. Each waiter watches
// only its predecessor.
type ZKMutex struct {
	conn ZKConn
	root string
}

func NewZKMutex(conn ZKConn) *ZKMutex {
	return &ZKMutex{conn: conn, root: lockRoot}
}

func (m *ZKMutex) Acquire(ctx context.Context, key string, timeout time.Duration) (Lease, error) {
	dir := m.root + "/" + strings.ReplaceAll(key, "/", "_")
	if err := m.ensure(m.root); err != nil {
		return Lease{Key: key}, err
	}
	if err := m.ensure(dir); err != nil {
		return Lease{Key: key}, err
	}

	node, err := m.conn.CreateProtectedEphemeralSequential(dir+"/lock-", nil, zk.WorldACL(zk.PermAll))
	if err != nil {
		return Lease{Key: key}, errors.Wrap(err, "create sequential node")
	}
	mine := path.Base(node)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	giveUp := func() (Lease, error) {
		if err := m.conn.Delete(node, -1); err != nil && !errors.Is(err, zk.ErrNoNode) {
			return Lease{Key: key}, errors.Wrap(err, "abandon lock node")
		}
		return Lease{Key: key}, nil
	}

	for {
		children, _, err := m.conn.Children(dir)
		if err != nil {
			_, _ = giveUp()
			return Lease{Key: key}, errors.Wrap(err, "list lock nodes")
		}
		sortBySequence(children)

		idx := indexOf(children, mine)
		if idx < 0 {
			return Lease{Key: key}, errors.Errorf("lock node %s vanished", node)
		}
		if idx == 0 {
			return Lease{Key: key, HolderID: node, Acquired: true}, nil
		}

		exists, _, events, err := m.conn.ExistsW(dir + "/" + children[idx-1])
		if err != nil {
			if errors.Is(err, zk.ErrNoNode) {
				continue
			}
			_, _ = giveUp()
			return Lease{Key: key}, errors.Wrap(err, "watch predecessor")
		}
		if !exists {
			continue
		}

		select {
		case <-events:
		case <-timer.C:
			return giveUp()
		case <-ctx.Done():
			return giveUp()
		}
	}
}

func (m *ZKMutex) Release(_ context.Context, lease Lease) (bool, error) {
	if !lease.Acquired || lease.HolderID == "" {
		return false, nil
	}
	err := m.conn.Delete(lease.HolderID, -1)
	if errors.Is(err, zk.ErrNoNode) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "delete lock node")
	}
	return true, nil
}

func (m *ZKMutex) ensure(p string) error {
	exists, _, err := m.conn.Exists(p)
	if err != nil {
		return errors.Wrapf(err, "check %s", p)
	}
	if exists {
		return nil
	}
	_, err = m.conn.Create(p, nil, 0, zk.WorldACL(zk.PermAll))
	if err != nil && !errors.Is(err, zk.ErrNodeExists) {
		return errors.Wrapf(err, "create %s", p)
	}
	return nil
}

// sortBySequence orders protected node names ("_c_<guid>-lock-0000000007")
// by their trailing sequence number.
func sortBySequence(names []string) {
	sort.Slice(names, func(i, j int) bool {
		return sequence(names[i]) < sequence(names[j])
	})
}

func sequence(name string) string {
	if i := strings.LastIndex(name, "-"); i >= 0 {
		return name[i+1:]
	}
	return name
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}
