// Package resilience coordinates guarded service-to-service calls across
// the library's core components:
//
//   - discovery: service registry with subscriptions and a periodic
//     instance health sweep
//   - balancer: per-service load balancing across six strategies
//   - circuitbreaker: per-service three-state breakers behind one manager
//   - health: service-level health records, fan-out and monitoring
//
// The Executor encodes the required ordering for a guarded call: breaker
// admission first, then healthy-instance lookup, then selection, then the
// transport attempt, then outcome reporting. Cross-component coordination
// happens only through each component's public methods.
//
// Components are independently usable; Client wires a default
// composition. Typical usage:
//
//	client, err := resilience.NewClient(resilience.DefaultConfig(), logger,
//		resilience.WithDiscoveryProbe(probe.TCP()))
//	if err != nil {
//		return err
//	}
//
//	client.Start()
//	defer client.Stop()
//
//	err = client.Call(ctx, "payments", func(ctx context.Context, inst discovery.ServiceInstance) error {
//		return transport.Do(ctx, inst.Endpoint)
//	})
package resilience
