package paramtree

import (
	"context"
	"fmt"
)

// Device is the entry point for one instrument: the root node of its
// parameter tree together with the serial it was built for.
type Device struct {
	Node

	serial string
}

// NewDevice builds the parameter tree of one device from a session. The tree
// is rooted below the device serial.
func NewDevice(ctx context.Context, session Session, serial string, settings *NodetreeSettings) (*Device, error) {
	root, err := ConstructNodetree(ctx, session, settings)
	if err != nil {
		return nil, err
	}
	return &Device{
		Node:   root,
		serial: serial,
	}, nil
}

func (self *Device) Serial() string {
	return self.serial
}

func (self *Device) String() string {
	return fmt.Sprintf("Device(%s)", self.serial)
}
