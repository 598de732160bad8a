// Package peers holds the sibling daemon list and decides which daemon owns
// a resource.
//
// Ownership uses rendezvous hashing over this daemon's advertised address and
// the peer addresses, so every daemon configured with the same node set
// reaches the same answer without exchanging messages. Forwarded connections
// announce themselves with a PEER line and are never forwarded again.
package peers
