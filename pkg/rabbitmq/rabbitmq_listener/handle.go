package rabbitmq_listener

// ChannelHandle - канал брокера, принадлежащий слушателю, и флаг примененного QoS.
// Флаг пишет только поток, выполняющий Start/RegisterService (под мьютексом слушателя).
type ChannelHandle struct {
	channel    Channel
	qosApplied bool
}

func newChannelHandle(ch Channel) *ChannelHandle {
	return &ChannelHandle{channel: ch}
}

// Channel возвращает канал брокера
func (h *ChannelHandle) Channel() Channel {
	return h.channel
}

// Connection возвращает соединение канала
func (h *ChannelHandle) Connection() Connection {
	return h.channel.Connection()
}

// QosApplied сообщает, были ли на канале уже выставлены настройки QoS
func (h *ChannelHandle) QosApplied() bool {
	return h.qosApplied
}

func (h *ChannelHandle) markQosApplied() {
	h.qosApplied = true
}
