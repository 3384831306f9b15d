// Package mqtt is the broker client used to fan authentication events out
// to other systems and to sibling instances of this service.
//
// The auth core publishes every audit event under
// {prefix}/audit/{category}/{event_type} and a revocation notice under
// {prefix}/session/{user_id}/revoked whenever a session is cleared. Each
// instance subscribes to the revocation wildcard so a device connected to
// any replica learns that its session ended.
//
// The client reconnects automatically and restores its subscriptions. A
// retained status message plus a last-will payload on
// {prefix}/system/{client_id}/status report liveness.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := mqtt.NewTopics(cfg.MQTT.TopicPrefix)
//	err = client.Subscribe(topics.SessionRevokedAll(), 1, handler)
package mqtt
