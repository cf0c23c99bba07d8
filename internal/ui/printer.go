// Package ui prints the feed to a terminal.
package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/alejoacosta74/skinport-go/internal/common"
	"github.com/alejoacosta74/skinport-go/internal/events"
	"github.com/alejoacosta74/skinport-go/pkg/skinport"
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

var (
	listedColor = color.New(color.FgGreen, color.Bold)
	soldColor   = color.New(color.FgRed, color.Bold)
	noticeColor = color.New(color.FgYellow)
	statusColor = color.New(color.FgCyan)
)

// FeedPrinter writes every feed event it sees on the bus to out.
type FeedPrinter struct {
	eventBus events.Bus
	out      io.Writer
	mutex    sync.Mutex
	logger   *logrus.Entry
	done     chan struct{}
}

func NewFeedPrinter(eventBus events.Bus, out io.Writer) *FeedPrinter {
	return &FeedPrinter{
		eventBus: eventBus,
		out:      out,
		logger:   logrus.WithField("component", "feed_printer"),
		done:     make(chan struct{}),
	}
}

// Start prints until ctx is cancelled.
func (p *FeedPrinter) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, channel := range common.KnownChannels {
		sub := p.eventBus.Subscribe(channel)
		wg.Add(1)
		go func(channel common.Channel, sub <-chan interface{}) {
			defer wg.Done()
			defer p.eventBus.Unsubscribe(channel, sub)
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-sub:
					if !ok {
						return
					}
					if fe, ok := event.(events.FeedEvent); ok {
						p.print(fe)
					}
				}
			}
		}(channel, sub)
	}

	go func() {
		wg.Wait()
		close(p.done)
	}()
}

func (p *FeedPrinter) print(e events.FeedEvent) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	at := e.ReceivedAt.Local().Format(time.TimeOnly)
	switch e.Channel {
	case common.ChannelSaleFeed:
		feed, err := skinport.DecodeSaleFeed(e.Payload)
		if err != nil {
			p.logger.WithError(err).Warn("Failed to decode sale feed")
			return
		}
		c := listedColor
		if feed.EventType == skinport.EventSold {
			c = soldColor
		}
		c.Fprintf(p.out, "[%s] ", at)
		fmt.Fprint(p.out, feed.PrettyPrint())

	case common.ChannelSteamStatusUpdated:
		status, err := skinport.DecodeSteamStatus(e.Payload)
		if err != nil {
			p.logger.WithError(err).Warn("Failed to decode steam status")
			return
		}
		statusColor.Fprintf(p.out, "[%s] steam status: %s\n", at, status)

	default:
		noticeColor.Fprintf(p.out, "[%s] %s: %v\n", at, e.Channel, e.Payload)
	}
}

func (p *FeedPrinter) Done() <-chan struct{} {
	return p.done
}
