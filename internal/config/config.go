// Package config reads the peer settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ryandielhenn/zephyrmutex/pkg/mutex"
)

type Peer struct {
	SelfAddr      string   // SELF_ADDR, gRPC listen address
	AdvertiseAddr string   // ADVERTISE_ADDR, address published to peers
	HTTPAddr      string   // HTTP_ADDR, health, info and metrics
	EtcdEndpoints []string // ETCD_ENDPOINTS, comma separated
	Group         string   // GROUP
	GroupSize     int      // GROUP_SIZE, members to wait for before starting
	PeerName      string   // PEER_NAME
	Behavior      mutex.Behavior

	ReceiveTimeout     time.Duration // RECEIVE_TIMEOUT
	MaxHold            time.Duration // MAX_HOLD
	SuspicionThreshold int           // SUSPICION_THRESHOLD
	LeaseTTL           int64         // LEASE_TTL, seconds

	Debug bool // DEBUG
}

// FromEnv reads the process environment.
func FromEnv() (Peer, error) {
	return Load(os.Getenv)
}

// Load builds a Peer from getenv. Unset variables take their defaults.
func Load(getenv func(string) string) (Peer, error) {
	c := Peer{
		SelfAddr:           ":7070",
		HTTPAddr:           ":8080",
		EtcdEndpoints:      []string{"http://etcd:2379"},
		Group:              "proc",
		ReceiveTimeout:     3 * time.Second,
		MaxHold:            2 * time.Second,
		SuspicionThreshold: 3,
		LeaseTTL:           10,
	}

	if v := getenv("SELF_ADDR"); v != "" {
		c.SelfAddr = v
	}
	c.AdvertiseAddr = getenv("ADVERTISE_ADDR")
	if v := getenv("HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	if v := getenv("ETCD_ENDPOINTS"); v != "" {
		c.EtcdEndpoints = splitList(v)
	}
	if v := getenv("GROUP"); v != "" {
		c.Group = v
	}
	c.PeerName = getenv("PEER_NAME")
	if c.PeerName == "" {
		c.PeerName = uuid.NewString()
	}

	var errs []error
	if v := getenv("GROUP_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		errs = append(errs, wrap("GROUP_SIZE", err))
		c.GroupSize = n
	}
	if v := getenv("BEHAVIOR"); v != "" {
		b, err := mutex.ParseBehavior(v)
		errs = append(errs, wrap("BEHAVIOR", err))
		c.Behavior = b
	}
	if v := getenv("RECEIVE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		errs = append(errs, wrap("RECEIVE_TIMEOUT", err))
		c.ReceiveTimeout = d
	}
	if v := getenv("MAX_HOLD"); v != "" {
		d, err := time.ParseDuration(v)
		errs = append(errs, wrap("MAX_HOLD", err))
		c.MaxHold = d
	}
	if v := getenv("SUSPICION_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		errs = append(errs, wrap("SUSPICION_THRESHOLD", err))
		c.SuspicionThreshold = n
	}
	if v := getenv("LEASE_TTL"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		errs = append(errs, wrap("LEASE_TTL", err))
		c.LeaseTTL = n
	}
	if v := getenv("DEBUG"); v != "" {
		b, err := strconv.ParseBool(v)
		errs = append(errs, wrap("DEBUG", err))
		c.Debug = b
	}

	if err := errors.Join(errs...); err != nil {
		return Peer{}, err
	}
	return c, c.Validate()
}

// Validate checks ranges that parsing alone cannot.
func (c Peer) Validate() error {
	var errs []error
	if c.GroupSize < 0 {
		errs = append(errs, fmt.Errorf("GROUP_SIZE must not be negative, got %d", c.GroupSize))
	}
	if c.ReceiveTimeout <= 0 {
		errs = append(errs, fmt.Errorf("RECEIVE_TIMEOUT must be positive, got %v", c.ReceiveTimeout))
	}
	if c.MaxHold < 0 {
		errs = append(errs, fmt.Errorf("MAX_HOLD must not be negative, got %v", c.MaxHold))
	}
	if c.ReceiveTimeout > 0 && c.MaxHold >= c.ReceiveTimeout {
		errs = append(errs, fmt.Errorf("MAX_HOLD must be shorter than RECEIVE_TIMEOUT, got %v >= %v", c.MaxHold, c.ReceiveTimeout))
	}
	if c.SuspicionThreshold < 1 {
		errs = append(errs, fmt.Errorf("SUSPICION_THRESHOLD must be at least 1, got %d", c.SuspicionThreshold))
	}
	if c.LeaseTTL < 1 {
		errs = append(errs, fmt.Errorf("LEASE_TTL must be at least 1, got %d", c.LeaseTTL))
	}
	if len(c.EtcdEndpoints) == 0 {
		errs = append(errs, errors.New("ETCD_ENDPOINTS is empty"))
	}
	return errors.Join(errs...)
}

func wrap(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
