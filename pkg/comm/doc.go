// Package comm turns the byte stream of a serial link into frames.
package comm

// A link is modelled the way a UART is wired on a microcontroller. The
// receive interrupt pushes every byte into the RX queue of a Channel and
// counts a frame whenever a terminator gets in. The main loop polls the
// channel for complete frames. In the other direction the main loop writes
// into the TX queue and enables the transmitter, whose interrupt drains the
// queue until it is empty.
//
// Producer: interrupt context (Port, raised on its irq.Line)
// Consumer: main loop (FramePoller, Channel.Write)
