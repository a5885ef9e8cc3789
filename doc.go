// Package undocked holds the domain types shared by the node daemon: local
// services, peer reports, snapshots and the error taxonomy.
//
// Service supervision lives in node/registry, traffic counters in node/stats,
// peer tracking in node/peers and node/gossip; node composes them.
package undocked
