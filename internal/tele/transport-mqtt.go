package tele

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/tankmon/kiosk/helpers"
	"github.com/tankmon/kiosk/log2"
	tele_config "github.com/tankmon/kiosk/tele/config"
)

const defaultClientID = "kiosk"

type transportMqtt struct {
	log     *log2.Log
	m       mqtt.Client
	mopt    *mqtt.ClientOptions
	timeout time.Duration
	stopCh  chan struct{}

	topicPrefix  string
	topicConnect string
	topicState   string
	topicEvent   string
}

func (self *transportMqtt) Init(ctx context.Context, log *log2.Log, teleConfig tele_config.Config, willPayload []byte) error {
	self.log = log
	mqtt.ERROR = log
	mqtt.CRITICAL = log
	mqtt.WARN = log
	if teleConfig.LogDebug {
		mqtt.DEBUG = log
	}
	if teleConfig.Broker == "" {
		return errors.NotValidf("tele broker=empty")
	}

	clientID := teleConfig.ClientID
	if clientID == "" {
		clientID = defaultClientID
	}
	self.topicPrefix = clientID
	if teleConfig.TopicPrefix != "" {
		self.topicPrefix = fmt.Sprintf("%s/%s", teleConfig.TopicPrefix, clientID)
	}
	self.topicConnect = self.topicPrefix + "/c"
	self.topicState = self.topicPrefix + "/state"
	self.topicEvent = self.topicPrefix + "/event"
	keepAlive := helpers.IntSecondDefault(teleConfig.KeepaliveSec, 60*time.Second)
	self.timeout = helpers.IntSecondDefault(teleConfig.NetworkTimeoutSec, 30*time.Second)

	self.mopt = mqtt.NewClientOptions().
		AddBroker(teleConfig.Broker).
		SetBinaryWill(self.topicConnect, willPayload, 1, true).
		SetCleanSession(false).
		SetClientID(clientID).
		SetUsername(teleConfig.Username).
		SetPassword(teleConfig.Password).
		SetKeepAlive(keepAlive).
		SetPingTimeout(self.timeout).
		SetConnectTimeout(self.timeout).
		SetWriteTimeout(self.timeout).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetOnConnectHandler(self.onConnectHandler).
		SetConnectionLostHandler(self.connectLostHandler)
	self.m = mqtt.NewClient(self.mopt)
	self.stopCh = make(chan struct{})
	go self.connectLoop()
	return nil
}

// connectLoop retries first connect, after that paho auto reconnect takes over.
func (self *transportMqtt) connectLoop() {
	backoff := helpers.Backoff{Min: time.Second, Max: 2 * time.Minute, K: 2}
	for {
		token := self.m.Connect()
		token.Wait()
		err := token.Error()
		if err == nil {
			return
		}
		self.log.Errorf("tele mqtt connect err=%v", err)
		select {
		case <-time.After(backoff.DelayAfter(false)):
		case <-self.stopCh:
			return
		}
	}
}

func (self *transportMqtt) Close() {
	close(self.stopCh)
	if self.m.IsConnectionOpen() {
		self.publish(self.topicConnect, true, []byte{0x00})
	}
	self.m.Disconnect(uint(self.timeout / time.Millisecond))
	self.log.Infof("tele mqtt closed")
}

func (self *transportMqtt) SendState(payload []byte) bool {
	self.log.Debugf("tele mqtt send state payload=%x", payload)
	return self.publish(self.topicState, true, payload)
}

func (self *transportMqtt) SendEvent(payload []byte) bool {
	self.log.Debugf("tele mqtt send event payload=%x", payload)
	return self.publish(self.topicEvent, false, payload)
}

func (self *transportMqtt) publish(topic string, retained bool, payload []byte) bool {
	if !self.m.IsConnectionOpen() {
		return false
	}
	token := self.m.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(self.timeout) {
		self.log.Errorf("tele mqtt publish topic=%s timeout", topic)
		return false
	}
	if err := token.Error(); err != nil {
		self.log.Errorf("tele mqtt publish topic=%s err=%v", topic, err)
		return false
	}
	return true
}

func (self *transportMqtt) connectLostHandler(c mqtt.Client, err error) {
	self.log.Infof("tele mqtt disconnect err=%v", err)
}

func (self *transportMqtt) onConnectHandler(c mqtt.Client) {
	self.log.Infof("tele mqtt connect")
	c.Publish(self.topicConnect, 1, true, []byte{0x01})
}
