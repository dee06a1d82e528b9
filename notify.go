package pgcore

import (
	"context"
	"fmt"
)

// Listen subscribes to channel via LISTEN and blocks until the server
// acknowledges it. Subsequent NOTIFY deliveries on channel reach the
// "notification" callback registered via On, for as long as the
// connection lives (spec.md §4 supplement: LISTEN/NOTIFY delivery).
func (c *Conn) Listen(ctx context.Context, channel string) error {
	stream, err := c.Query(ctx, fmt.Sprintf("LISTEN %s", quoteIdentifier(channel)), nil)
	if err != nil {
		return err
	}

	_, err = stream.Collect(ctx)
	return err
}

// Unlisten cancels a prior Listen subscription.
func (c *Conn) Unlisten(ctx context.Context, channel string) error {
	stream, err := c.Query(ctx, fmt.Sprintf("UNLISTEN %s", quoteIdentifier(channel)), nil)
	if err != nil {
		return err
	}

	_, err = stream.Collect(ctx)
	return err
}

// Notify sends NOTIFY channel, payload via SQL's pg_notify(), which
// (unlike the bare NOTIFY statement) accepts the payload as a bound
// parameter instead of requiring it to be lexed as part of the command.
func (c *Conn) Notify(ctx context.Context, channel, payload string) error {
	stream, err := c.Query(ctx, "SELECT pg_notify($1, $2)", []any{channel, payload})
	if err != nil {
		return err
	}

	_, err = stream.Collect(ctx)
	return err
}

// quoteIdentifier double-quotes an identifier for use in LISTEN/UNLISTEN,
// where the channel name can't be passed as a bound parameter.
func quoteIdentifier(name string) string {
	escaped := ""
	for _, r := range name {
		if r == '"' {
			escaped += `""`
			continue
		}
		escaped += string(r)
	}

	return `"` + escaped + `"`
}
