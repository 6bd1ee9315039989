// Package codec содержит стадии цепочки кодеков RTP конвейера:
// пакетизатор и депакетизатор H.264 (FU-A, RFC 6184), кодеры и
// декодеры G.711 и декодер Opus.
//
// Все стадии реализуют rtp.Codec и хранят только собственное состояние
// (например, буфер сборки фрагментированного кадра), поэтому один
// экземпляр обслуживает ровно одну цепочку.
package codec
