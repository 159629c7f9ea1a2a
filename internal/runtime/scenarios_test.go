// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

package runtime_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/aranya-project/aranya/internal/policy/compile"
	"github.com/aranya-project/aranya/internal/policy/ffi"
	"github.com/aranya-project/aranya/internal/policy/lang"
	"github.com/aranya-project/aranya/internal/policy/machine"
	"github.com/aranya-project/aranya/internal/policy/types"
	"github.com/aranya-project/aranya/internal/runtime"
)

// guardedStep's command rejects a negative x via its policy check, giving
// the sync/session scenarios below a real gate to observe.
const guardedStep = `
	effect StuffHappened { x int }
	command Step {
		fields { x int }
		policy {
			check x >= 0
			finish {
				emit StuffHappened{x: x}
			}
		}
	}
	action step(x int) {
		publish Step{x: x}
	}
`

func buildScenarioModel(src string) *runtime.Model {
	prog, err := lang.Parse(src)
	Expect(err).NotTo(HaveOccurred())
	m, err := compile.Compile(prog, compile.Options{})
	Expect(err).NotTo(HaveOccurred())
	reg, err := ffi.NewDefaultRegistry(nil, nil)
	Expect(err).NotTo(HaveOccurred())
	return runtime.NewModel(m, reg, nil)
}

func effectXs(effects []machine.Effect) []int64 {
	out := make([]int64, 0, len(effects))
	for _, e := range effects {
		v, ok := e.Fields.Get("x")
		Expect(ok).To(BeTrue())
		out = append(out, v.Int)
	}
	return out
}

var _ = Describe("Multi-client sync", func() {
	var (
		ctx              context.Context
		model            *runtime.Model
		clientA, clientB runtime.ProxyClientID
		graphID          runtime.ProxyGraphID
	)

	BeforeEach(func() {
		ctx = context.Background()
		model = buildScenarioModel(guardedStep)
		clientA = runtime.NewProxyClientID()
		clientB = runtime.NewProxyClientID()
		Expect(model.AddClient(clientA, types.ID{0xA1})).To(Succeed())
		Expect(model.AddClient(clientB, types.ID{0xB1})).To(Succeed())
		graphID = runtime.NewProxyGraphID()
	})

	It("transfers the full command chain and lets the destination extend it", func() {
		_, err := model.NewGraph(ctx, clientA, graphID, runtime.ActionCall{Name: "step", Args: []types.Value{types.Int64(1)}})
		Expect(err).NotTo(HaveOccurred())
		_, err = model.Action(ctx, clientA, graphID, runtime.ActionCall{Name: "step", Args: []types.Value{types.Int64(2)}})
		Expect(err).NotTo(HaveOccurred())

		report, err := model.Sync(ctx, graphID, clientA, clientB)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Applied).To(HaveLen(2))
		Expect(report.Rejected).To(BeEmpty())

		// The destination's head now sits atop the synced chain: a fresh
		// action from clientB extends it rather than forking a new root.
		effects, err := model.Action(ctx, clientB, graphID, runtime.ActionCall{Name: "step", Args: []types.Value{types.Int64(3)}})
		Expect(err).NotTo(HaveOccurred())
		Expect(effectXs(effects)).To(Equal([]int64{3}))
	})
})

var _ = Describe("Session isolation", func() {
	var (
		ctx     context.Context
		model   *runtime.Model
		clientA runtime.ProxyClientID
		graphID runtime.ProxyGraphID
	)

	BeforeEach(func() {
		ctx = context.Background()
		model = buildScenarioModel(guardedStep)
		clientA = runtime.NewProxyClientID()
		Expect(model.AddClient(clientA, types.ID{0xA2})).To(Succeed())
		graphID = runtime.NewProxyGraphID()
		_, err := model.NewGraph(ctx, clientA, graphID, runtime.ActionCall{Name: "step", Args: []types.Value{types.Int64(1)}})
		Expect(err).NotTo(HaveOccurred())
	})

	It("keeps session-only actions off the persistent graph", func() {
		envelopes, effects, err := model.SessionActions(ctx, clientA, graphID, []runtime.ActionCall{
			{Name: "step", Args: []types.Value{types.Int64(42)}},
			{Name: "step", Args: []types.Value{types.Int64(43)}},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(effectXs(effects)).To(Equal([]int64{42, 43}))
		Expect(envelopes).To(HaveLen(2))

		clientB := runtime.NewProxyClientID()
		Expect(model.AddClient(clientB, types.ID{0xB2})).To(Succeed())
		report, err := model.Sync(ctx, graphID, clientA, clientB)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Applied).To(HaveLen(1), "only the init step reached the persistent graph")
	})

	It("lets a peer's session replay the serialized commands and see the same effects", func() {
		envelopes, _, err := model.SessionActions(ctx, clientA, graphID, []runtime.ActionCall{
			{Name: "step", Args: []types.Value{types.Int64(7)}},
		})
		Expect(err).NotTo(HaveOccurred())

		clientB := runtime.NewProxyClientID()
		Expect(model.AddClient(clientB, types.ID{0xB3})).To(Succeed())
		_, err = model.NewGraph(ctx, clientB, graphID, runtime.ActionCall{Name: "step", Args: []types.Value{types.Int64(1)}})
		Expect(err).NotTo(HaveOccurred())

		effects, err := model.SessionReceive(ctx, clientB, graphID, envelopes)
		Expect(err).NotTo(HaveOccurred())
		Expect(effectXs(effects)).To(Equal([]int64{7}))
	})
})
