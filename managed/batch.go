// Copyright 2025 Edgeo SCADA
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

package managed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	opcua "github.com/edgeo-scada/opcua-managed"
)

// group is a set of requests that can share one service call. indices
// maps each request back to its position in the batch.
type group[K comparable, Req any] struct {
	key     K
	indices []int
	reqs    []Req
}

// groupBy partitions reqs by key, keeping first-seen key order and
// insertion order within each group.
func groupBy[K comparable, Req any](keys []K, reqs []Req) []group[K, Req] {
	var groups []group[K, Req]
	pos := make(map[K]int)
	for i, k := range keys {
		g, ok := pos[k]
		if !ok {
			g = len(groups)
			pos[k] = g
			groups = append(groups, group[K, Req]{key: k})
		}
		groups[g].indices = append(groups[g].indices, i)
		groups[g].reqs = append(groups[g].reqs, reqs[i])
	}
	return groups
}

type span struct{ lo, hi int }

// partition splits n requests into chunks of at most limit. A limit of
// zero or less means one chunk.
func partition(n, limit int) []span {
	if n == 0 {
		return nil
	}
	if limit <= 0 || limit >= n {
		return []span{{0, n}}
	}
	spans := make([]span, 0, (n+limit-1)/limit)
	for lo := 0; lo < n; lo += limit {
		spans = append(spans, span{lo, min(lo+limit, n)})
	}
	return spans
}

// outcome is the result of one batched operation. result is nil when the
// service call carrying it failed, in which case serviceResult holds the
// failure status.
type outcome[Res any] struct {
	serviceResult opcua.StatusCode
	result        *Res
}

// runBatch executes every group in chunks bounded by the operation limit.
// call issues one service call for requests sharing a key. runBatch returns
// one outcome per request, in batch order, and never fails: a failed call
// yields a uniform outcome for the requests it carried.
func runBatch[K comparable, Req, Res any](ctx context.Context, s *Subscription, svc opcua.ServiceID, batchID string,
	n int, groups []group[K, Req], call func(ctx context.Context, key K, reqs []Req) ([]Res, error)) []outcome[Res] {
	limit := s.operationLimit(ctx)
	out := make([]outcome[Res], n)
	filled := make([]bool, n)

	var g errgroup.Group
	if s.opts.maxConcurrency > 0 {
		g.SetLimit(s.opts.maxConcurrency)
	}

	calls := 0
	for _, grp := range groups {
		for _, sp := range partition(len(grp.reqs), limit) {
			grp, sp := grp, sp
			calls++
			g.Go(func() error {
				indices := grp.indices[sp.lo:sp.hi]
				start := time.Now()
				results, err := func() (res []Res, err error) {
					defer func() {
						if p := recover(); p != nil {
							err = fmt.Errorf("managed: %s panicked: %v", svc, p)
						}
					}()
					return call(ctx, grp.key, grp.reqs[sp.lo:sp.hi])
				}()
				s.metrics.ForService(svc).Observe(start, err)
				if err == nil && len(results) != len(indices) {
					err = opcua.NewOPCUAError(svc, opcua.StatusBadUnknownResponse,
						fmt.Sprintf("expected %d results, got %d", len(indices), len(results)))
				}

				if err != nil {
					status := opcua.StatusOf(err)
					s.metrics.BatchCallFailures.Add(1)
					s.logger.Warn("batch call failed",
						slog.String("batch_id", batchID),
						slog.String("service", svc.String()),
						slog.Int("items", len(indices)),
						slog.String("status", status.String()),
						slog.Any("error", err))
					for _, idx := range indices {
						out[idx] = outcome[Res]{serviceResult: status}
						filled[idx] = true
					}
					return nil
				}

				for i, idx := range indices {
					res := results[i]
					out[idx] = outcome[Res]{serviceResult: opcua.StatusGood, result: &res}
					filled[idx] = true
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	for i, ok := range filled {
		if !ok {
			s.logger.Error("batch result missing", slog.String("batch_id", batchID), slog.Int("index", i))
			out[i] = outcome[Res]{serviceResult: opcua.StatusBadInternalError}
		}
	}

	s.metrics.BatchExecutions.Add(1)
	s.metrics.BatchCalls.Add(int64(calls))
	s.logger.Debug("batch executed",
		slog.String("batch_id", batchID),
		slog.String("service", svc.String()),
		slog.Int("items", n),
		slog.Int("calls", calls),
		slog.Int("operation_limit", limit))
	return out
}
