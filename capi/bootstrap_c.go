package main

import "github.com/edsonmartins/mepassa/internal/bootstrap"

func bootstrapNode(peerID, address string) bootstrap.Node {
	return bootstrap.Node{PeerID: peerID, Address: address}
}
