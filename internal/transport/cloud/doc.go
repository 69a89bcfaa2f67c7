// Package cloud provides the relay transport: a duplex channel to a
// remote appliance through the BrewOS cloud relay broker.
//
// The relay is MQTT. Each paired appliance maintains its own broker
// session and mirrors its WebSocket traffic onto per-device topics;
// this transport subscribes to the device's state topic and publishes
// commands to its command topic, so the application sees the same
// snapshot stream it would on the LAN.
//
// Connection management (reconnect with capped backoff, subscription
// restore on reconnect) is delegated to the paho client.
package cloud
