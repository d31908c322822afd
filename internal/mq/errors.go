package mq

import "errors"

var (
	// ErrNoChannel — соединение с RabbitMQ не установлено.
	ErrNoChannel = errors.New("no amqp channel available")

	// ErrNotConfirmed — брокер ответил nack на публикацию.
	ErrNotConfirmed = errors.New("publish not confirmed by broker")

	// ErrRejected — сообщение некорректно и не должно обрабатываться повторно.
	ErrRejected = errors.New("message rejected")

	// ErrUnexpectedMessage — тип сообщения не соответствует очереди.
	ErrUnexpectedMessage = errors.New("unexpected message type")
)
