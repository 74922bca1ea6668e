/*
Package resilience provides a circuit breaker for endpoint backends.

A breaker counts consecutive failures of calls made through it. At the
threshold it opens and rejects calls with ErrOpen until the cooldown has
passed; then one trial call runs, and its outcome closes or reopens the
breaker.

	Closed --[threshold failures]--> Open --[cooldown]--> Half-Open
	   ^                                ^                      |
	   |                                +------[failure]-------+
	   +---------------------[success]-------------------------+

Group keeps one breaker per key; the SSH backend keys them by host:port so
an unreachable host fails fast without affecting others.

	hosts := resilience.NewGroup(resilience.Settings{Threshold: 3, Cooldown: 30 * time.Second})
	err := hosts.Get("build.example.com:22").Do(func() error {
		return dial()
	})
*/
package resilience
