package guestcfg

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ghodss/yaml"
	"github.com/samber/lo"
)

// InputFormat selects how the worker decodes a TCP source stream.
type InputFormat string

const (
	FormatCSV InputFormat = "CSV"
	FormatNES InputFormat = "NES"
)

const defaultFlushInterval = 100 * time.Millisecond

// TCPSource describes one physical source the worker ingests over TCP.
type TCPSource struct {
	LogicalSourceName string
	// PhysicalSourceName defaults to "<logical>_phy" when empty.
	PhysicalSourceName string
	// SocketHost defaults to the coordinator address when empty.
	SocketHost string
	SocketPort int
	// FlushInterval defaults to 100ms when zero.
	FlushInterval time.Duration
	Format        InputFormat
	// SizePrefixBytes is the length prefix width, NES format only.
	SizePrefixBytes int
}

func (s TCPSource) physicalName() string {
	if s.PhysicalSourceName != "" {
		return s.PhysicalSourceName
	}
	return s.LogicalSourceName + "_phy"
}

func (s TCPSource) configuration(coordinatorIP string) map[string]string {
	host := s.SocketHost
	if host == "" {
		host = coordinatorIP
	}
	flush := s.FlushInterval
	if flush == 0 {
		flush = defaultFlushInterval
	}

	cfg := map[string]string{
		"socketHost":      host,
		"socketPort":      strconv.Itoa(s.SocketPort),
		"socketDomain":    "AF_INET",
		"socketType":      "SOCK_STREAM",
		"flushIntervalMS": strconv.FormatInt(flush.Milliseconds(), 10),
	}

	switch s.Format {
	case FormatNES:
		cfg["inputFormat"] = string(FormatNES)
		cfg["decideMessageSize"] = "BUFFER_SIZE_FROM_SOCKET"
		cfg["bytesUsedForSocketBufferSizeTransfer"] = strconv.Itoa(s.SizePrefixBytes)
	default:
		cfg["inputFormat"] = string(FormatCSV)
		cfg["decideMessageSize"] = "TUPLE_SEPARATOR"
	}
	return cfg
}

// QueryProcessing tunes the worker's thread and buffer sizing. Zero
// values are omitted so the worker falls back to its own defaults.
type QueryProcessing struct {
	WorkerThreads    int
	TotalBuffers     int
	SourceBuffers    int
	BuffersPerThread int
	BufferSizeBytes  int
}

type sourceDoc struct {
	LogicalSourceName  string            `json:"logicalSourceName"`
	PhysicalSourceName string            `json:"physicalSourceName"`
	Type               string            `json:"type"`
	Configuration      map[string]string `json:"configuration"`
}

type workerDoc struct {
	WorkerID      int    `json:"workerId"`
	LocalWorkerIP string `json:"localWorkerIp"`
	CoordinatorIP string `json:"coordinatorIp"`
	ParentID      int    `json:"parentId,omitempty"`
	LogLevel      string `json:"logLevel,omitempty"`

	NumWorkerThreads                       int `json:"numWorkerThreads,omitempty"`
	BufferSizeInBytes                      int `json:"bufferSizeInBytes,omitempty"`
	NumberOfBuffersPerWorker               int `json:"numberOfBuffersPerWorker,omitempty"`
	NumberOfBuffersInGlobalBufferManager   int `json:"numberOfBuffersInGlobalBufferManager,omitempty"`
	NumberOfBuffersInSourceLocalBufferPool int `json:"numberOfBuffersInSourceLocalBufferPool,omitempty"`

	PhysicalSources []sourceDoc `json:"physicalSources,omitempty"`
}

// WorkerConfig renders the worker's YAML configuration file.
func (r *Registry) WorkerConfig(wc WorkerConfiguration) (string, error) {
	coordinator := wc.HostIPAddr.String()

	doc := workerDoc{
		WorkerID:      wc.WorkerID,
		LocalWorkerIP: wc.IPAddr.String(),
		CoordinatorIP: coordinator,
		ParentID:      wc.ParentID,
		LogLevel:      wc.LogLevel,

		NumWorkerThreads:                       wc.Processing.WorkerThreads,
		BufferSizeInBytes:                      wc.Processing.BufferSizeBytes,
		NumberOfBuffersPerWorker:               wc.Processing.BuffersPerThread,
		NumberOfBuffersInGlobalBufferManager:   wc.Processing.TotalBuffers,
		NumberOfBuffersInSourceLocalBufferPool: wc.Processing.SourceBuffers,

		PhysicalSources: lo.Map(wc.Sources, func(s TCPSource, _ int) sourceDoc {
			return sourceDoc{
				LogicalSourceName:  s.LogicalSourceName,
				PhysicalSourceName: s.physicalName(),
				Type:               "TCP_SOURCE",
				Configuration:      s.configuration(coordinator),
			}
		}),
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshaling worker config: %w", err)
	}
	return string(out), nil
}
