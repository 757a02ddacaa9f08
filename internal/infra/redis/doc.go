// Package redis provides the Redis integration of the authorization service.
//
// # Overview
//
//   - Client: connection management with TLS, pooling and retry on startup
//   - Cache[T]: typed JSON cache used for effective permission sets
//   - PermissionNotifier: cross-instance relay of permission change events
//     over pub/sub, feeding each instance's in-process event bus
//
// # Using the Cache
//
//	sets, err := redis.NewCache[accesscontrol.EffectivePermissionSet](client, "eff_set", 5*time.Minute)
//	if err != nil {
//		return err
//	}
//
//	set, err := sets.GetOrSetFallback(ctx, userID.String(), func(ctx context.Context) (*accesscontrol.EffectivePermissionSet, error) {
//		return loadFromStore(ctx, userID)
//	})
//
// # Relaying events
//
// Every instance publishes the events its services emit and listens for the
// events of every other instance:
//
//	notifier := redis.NewPermissionNotifier(client, cfg.Events.Channel, bus, log)
//	if err := notifier.StartListener(ctx); err != nil {
//		return err
//	}
//	_ = notifier.Publish(ctx, evt)
//
// # Error Handling
//
// Use errors.Is against ErrCacheMiss and ErrKeyNotFound.
package redis
